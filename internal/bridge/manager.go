package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tickbridge.ai/internal/engine"
)

type Config struct {
	ConnectTimeout     time.Duration
	TickTimeout        time.Duration
	MaxSessions        int
	MaxParallelConnect int
	TrackingRadius     float64
	AuthToken          string
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TickTimeout <= 0 {
		c.TickTimeout = 2 * time.Second
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = 256
	}
	if c.MaxParallelConnect <= 0 {
		c.MaxParallelConnect = 8
	}
	return c
}

func (c Config) sessionConfig() SessionConfig {
	return SessionConfig{
		ConnectTimeout: c.ConnectTimeout,
		TickTimeout:    c.TickTimeout,
		TrackingRadius: c.TrackingRadius,
		AuthToken:      c.AuthToken,
	}
}

var errManagerClosed = errors.New("bridge manager closed")

// Manager owns every session behind opaque handles. Sessions never share
// mutable state with each other.
type Manager struct {
	cfg    Config
	dialer engine.Dialer
	log    zerolog.Logger
	inst   *instruments

	recorder Recorder

	mu       sync.Mutex
	sessions map[string]*Session
	reserved int
	closed   bool
}

func NewManager(cfg Config, d engine.Dialer, logger zerolog.Logger) (*Manager, error) {
	if d == nil {
		return nil, fmt.Errorf("nil dialer")
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		dialer:   d,
		log:      logger.With().Str("component", "bridge").Logger(),
		inst:     newInstruments(),
		sessions: map[string]*Session{},
	}, nil
}

// SetRecorder installs a recorder for sessions created afterwards.
func (m *Manager) SetRecorder(r Recorder) {
	m.mu.Lock()
	m.recorder = r
	m.mu.Unlock()
}

func (m *Manager) Config() Config { return m.cfg }

// Connect creates a session and blocks until it is in game.
func (m *Manager) Connect(ctx context.Context, host string, port int, name string) (*Session, error) {
	handle := uuid.NewString()
	if err := m.reserve(handle); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rec := m.recorder
	m.mu.Unlock()

	s := newSession(handle, engine.Target{Host: host, Port: port, Name: name}, m.cfg.sessionConfig(), m.log, m.inst, rec)
	err := s.connect(ctx, m.dialer)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved--
	if err != nil {
		return nil, err
	}
	if m.closed {
		go s.Disconnect()
		return nil, newError(KindConnection, handle, "connect", errManagerClosed)
	}
	m.sessions[handle] = s
	return s, nil
}

// reserve claims a slot before dialing so parallel connects cannot overshoot
// MaxSessions. Terminal sessions are pruned first.
func (m *Manager) reserve(handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return newError(KindConnection, handle, "connect", errManagerClosed)
	}
	if len(m.sessions)+m.reserved >= m.cfg.MaxSessions {
		for h, s := range m.sessions {
			if s.State().Terminal() {
				delete(m.sessions, h)
			}
		}
	}
	if len(m.sessions)+m.reserved >= m.cfg.MaxSessions {
		return newError(KindConnection, handle, "connect", fmt.Errorf("session limit %d reached", m.cfg.MaxSessions))
	}
	m.reserved++
	return nil
}

// Session looks up a handle. Disconnected sessions stay visible so callers
// get DisconnectedError rather than an unknown handle.
func (m *Manager) Session(handle string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	return s, ok
}

// Sessions summarizes every known session ordered by name, then handle.
func (m *Manager) Sessions() []SessionRecord {
	m.mu.Lock()
	ss := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		ss = append(ss, s)
	}
	m.mu.Unlock()

	out := make([]SessionRecord, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.Record())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// Disconnect ends one session. Unknown handles are not an error.
func (m *Manager) Disconnect(handle string) {
	if s, ok := m.Session(handle); ok {
		s.Disconnect()
	}
}

// Forget drops a terminal session from the table.
func (m *Manager) Forget(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[handle]; ok && s.State().Terminal() {
		delete(m.sessions, handle)
	}
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Disconnect()
	}
	return nil
}
