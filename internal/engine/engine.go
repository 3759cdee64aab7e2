// Package engine is the boundary between the bridge and a live game session.
// Implementations own the network connection and its reader goroutine; the
// bridge only sees the latest observation and a wakeup signal.
package engine

import (
	"context"
	"errors"
	"fmt"

	"tickbridge.ai/internal/protocol"
)

var (
	// ErrRejected means the server refused the identity (bad token, name in use).
	ErrRejected = errors.New("engine: identity rejected")
	// ErrMalformed means the server sent a frame that could not be decoded.
	ErrMalformed = errors.New("engine: malformed frame")
)

type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseAuthenticating
	PhaseJoining
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseJoining:
		return "joining"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Target struct {
	Host  string
	Port  int
	Name  string
	Token string
}

func (t Target) Addr() string { return fmt.Sprintf("%s:%d", t.Host, t.Port) }

type Dialer interface {
	// Dial returns once the player is in the world and the first observation
	// has arrived. onPhase may be nil.
	Dial(ctx context.Context, t Target, onPhase func(Phase)) (Conn, error)
}

type Conn interface {
	Welcome() protocol.WelcomeMsg
	Send(ctx context.Context, act protocol.ActMsg) error
	// Latest returns the most recent observation. The error wraps ErrMalformed
	// when the newest frame could not be decoded.
	Latest() (protocol.ObsMsg, error)
	// Notify receives a value after each new observation. It has capacity one,
	// so several frames may collapse into one wakeup.
	Notify() <-chan struct{}
	Done() <-chan struct{}
	// Err is the reason the connection ended, valid after Done is closed.
	Err() error
	Close() error
}

// RejectedError carries the server's error code for a refused identity.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("engine: rejected (%s): %s", e.Code, e.Message)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }
