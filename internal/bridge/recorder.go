package bridge

import (
	"errors"
	"time"
)

// SessionRecord describes a session for recorders and list_sessions.
type SessionRecord struct {
	Handle    string    `json:"handle"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	State     string    `json:"state"`
	Tick      uint64    `json:"tick"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// TickRecord is one successful tick as seen by the caller.
type TickRecord struct {
	Handle     string      `json:"handle"`
	Name       string      `json:"name"`
	Tick       uint64      `json:"tick"`
	ServerTick uint64      `json:"server_tick"`
	Actions    []string    `json:"actions,omitempty"`
	Vector     []float64   `json:"vector"`
	State      StateRecord `json:"state"`
	At         time.Time   `json:"at"`
}

// StateRecord is the compact, JSON-friendly form of a GameState.
type StateRecord struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Z              float64 `json:"z"`
	Yaw            float64 `json:"yaw"`
	Pitch          float64 `json:"pitch"`
	Health         float64 `json:"health"`
	Food           float64 `json:"food"`
	AttackCooldown float64 `json:"attack_cooldown"`
	Entities       int     `json:"entities"`
}

// Recorder receives session lifecycle and tick records. Implementations must
// not block the caller for long; sessions call them inline.
type Recorder interface {
	SessionOpened(r SessionRecord) error
	SessionClosed(r SessionRecord) error
	RecordTick(r TickRecord) error
}

// MultiRecorder fans out to several recorders and joins their errors.
type MultiRecorder []Recorder

func (m MultiRecorder) SessionOpened(r SessionRecord) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.SessionOpened(r))
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) SessionClosed(r SessionRecord) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.SessionClosed(r))
	}
	return errors.Join(errs...)
}

func (m MultiRecorder) RecordTick(r TickRecord) error {
	var errs []error
	for _, x := range m {
		errs = append(errs, x.RecordTick(r))
	}
	return errors.Join(errs...)
}

func stateRecord(g GameState) StateRecord {
	return StateRecord{
		X: g.X(), Y: g.Y(), Z: g.Z(),
		Yaw: g.Yaw, Pitch: g.Pitch,
		Health: g.Health, Food: g.Food,
		AttackCooldown: g.AttackCooldown,
		Entities:       len(g.entities),
	}
}

func actionKinds(actions []Action) []string {
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = string(a.Kind)
	}
	return out
}
