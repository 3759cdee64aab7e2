package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/engine"
)

type SessionConfig struct {
	ConnectTimeout time.Duration
	TickTimeout    time.Duration
	// TrackingRadius overrides the server's advertised radius when > 0.
	TrackingRadius float64
	AuthToken      string
}

// Session is one bot in the world. All methods are safe for concurrent use;
// Tick is the only one that waits on the network.
type Session struct {
	handle string
	target engine.Target
	cfg    SessionConfig

	log      zerolog.Logger
	inst     *instruments
	recorder Recorder

	queue *Queue

	mu       sync.Mutex
	state    State
	conn     engine.Conn
	sync     *synchronizer
	registry *Registry
	snap     *GameState
	tick     uint64
	cause    error
	openedAt time.Time
	closedAt time.Time
}

func newSession(handle string, t engine.Target, cfg SessionConfig, logger zerolog.Logger, inst *instruments, rec Recorder) *Session {
	return &Session{
		handle:   handle,
		target:   t,
		cfg:      cfg,
		log:      logger.With().Str("session", handle).Str("name", t.Name).Logger(),
		inst:     inst,
		recorder: rec,
		queue:    &Queue{},
		state:    StateConnecting,
	}
}

func (s *Session) Handle() string { return s.handle }
func (s *Session) Name() string   { return s.target.Name }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TickCount is the number of successful ticks so far.
func (s *Session) TickCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Registry exposes the session's entity registry for direct queries.
func (s *Session) Registry() *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = st
	}
	s.mu.Unlock()
}

// connect dials and blocks until the session is in game, with the initial
// snapshot built at tick 0.
func (s *Session) connect(ctx context.Context, d engine.Dialer) (err error) {
	defer func() { s.inst.connect(ctx, err) }()

	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := s.target
	t.Token = s.cfg.AuthToken
	conn, err := d.Dial(dctx, t, func(p engine.Phase) {
		switch p {
		case engine.PhaseConnecting:
			s.setState(StateConnecting)
		case engine.PhaseAuthenticating:
			s.setState(StateAuthenticating)
		case engine.PhaseJoining:
			s.setState(StateJoiningWorld)
		}
		s.log.Debug().Str("phase", p.String()).Msg("connect phase")
	})
	if err != nil {
		kind := KindConnection
		switch {
		case errors.Is(err, engine.ErrRejected):
			kind = KindAuthentication
		case errors.Is(dctx.Err(), context.DeadlineExceeded):
			kind = KindTimeout
		case errors.Is(err, engine.ErrMalformed):
			kind = KindProtocol
		}
		berr := newError(kind, s.handle, "connect", err)
		s.fail(StateErrored, berr)
		return berr
	}

	radius := s.cfg.TrackingRadius
	if radius <= 0 {
		radius = conn.Welcome().WorldParams.TrackingRadius
	}
	reg := NewRegistry(radius)

	s.mu.Lock()
	s.conn = conn
	s.registry = reg
	s.sync = newSynchronizer(conn, s.queue, s.cfg.TickTimeout)
	s.openedAt = time.Now().UTC()
	s.mu.Unlock()

	if _, err := s.resync("connect"); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateInGame
	s.mu.Unlock()
	s.log.Info().Int64("entity_id", conn.Welcome().EntityID).Msg("in game")
	if s.recorder != nil {
		if err := s.recorder.SessionOpened(s.Record()); err != nil {
			s.log.Warn().Err(err).Msg("recorder: session opened")
		}
	}
	return nil
}

// resync rebuilds the snapshot from the engine's latest frame without
// advancing the tick counter.
func (s *Session) resync(op string) (GameState, error) {
	s.mu.Lock()
	conn, reg, tick := s.conn, s.registry, s.tick
	s.mu.Unlock()

	obs, err := conn.Latest()
	if err == nil {
		err = validateObs(obs)
	}
	if err != nil {
		berr := newError(KindProtocol, s.handle, op, err)
		s.fail(StateErrored, berr)
		return GameState{}, berr
	}
	reg.Replace(obs.Self.Pos, entitiesFromObs(obs))
	st := buildState(obs, tick, reg.Entities())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return GameState{}, s.disconnectedLocked(op)
	}
	s.snap = &st
	return st, nil
}

// GetState returns the snapshot built by the last successful Tick, or the
// connect-time snapshot before the first one. It never touches the network
// and never moves the tick counter.
func (s *Session) GetState() (GameState, error) {
	if err := s.checkLive("get_state"); err != nil {
		return GameState{}, err
	}
	s.mu.Lock()
	snap := s.snap
	s.mu.Unlock()
	if snap != nil {
		return *snap, nil
	}
	return s.resync("get_state")
}

// Tick applies queued actions and blocks until the server has stepped once,
// the deadline passes, or the connection ends. Concurrent calls run one at a
// time, each numbered in the order its frame was acknowledged.
//
// A timeout leaves the counter unchanged and the drained actions are not
// retried by the bridge. The ACT carrying them may already have reached the
// server, so they can still take effect on a step this session never counts.
// Servers that keep only the newest pending ACT per client, as the arena hub
// does, discard them if the next Tick arrives before that step.
func (s *Session) Tick(ctx context.Context) (GameState, error) {
	if err := s.checkLive("tick"); err != nil {
		return GameState{}, err
	}
	s.mu.Lock()
	syncer, reg := s.sync, s.registry
	s.mu.Unlock()

	start := time.Now()
	var res tickResult
	err := syncer.acquire(ctx)
	if err == nil {
		defer syncer.release()
		// Read after acquiring so aiming starts from the previous tick's result.
		s.mu.Lock()
		last := GameState{}
		if s.snap != nil {
			last = *s.snap
		}
		s.mu.Unlock()

		res, err = syncer.step(ctx, last)
		if err == nil {
			err = validateObs(res.obs)
			if err != nil {
				err = newError(KindProtocol, "", "tick", err)
			}
		}
	}
	if err != nil {
		var be *Error
		if errors.As(err, &be) {
			be.Session = s.handle
		}
		switch KindOf(err) {
		case KindDisconnected:
			s.fail(StateDisconnected, err)
		case KindProtocol:
			s.fail(StateErrored, err)
		case KindTimeout:
			s.log.Warn().Err(err).Msg("tick timed out")
		}
		s.inst.tick(ctx, 0, err)
		return GameState{}, err
	}

	reg.Replace(res.obs.Self.Pos, entitiesFromObs(res.obs))

	s.mu.Lock()
	if s.state.Terminal() {
		err := s.disconnectedLocked("tick")
		s.mu.Unlock()
		return GameState{}, err
	}
	s.tick++
	st := buildState(res.obs, s.tick, reg.Entities())
	s.snap = &st
	s.mu.Unlock()

	s.inst.tick(ctx, float64(time.Since(start).Microseconds())/1000, nil)
	s.log.Trace().Uint64("tick", st.Tick).Uint64("server_tick", st.ServerTick).Int("actions", len(res.applied)).Msg("tick")
	if s.recorder != nil {
		rec := TickRecord{
			Handle:     s.handle,
			Name:       s.target.Name,
			Tick:       st.Tick,
			ServerTick: st.ServerTick,
			Actions:    actionKinds(res.applied),
			Vector:     st.ToVector(VectorLayout{}),
			State:      stateRecord(st),
			At:         time.Now().UTC(),
		}
		if err := s.recorder.RecordTick(rec); err != nil {
			s.log.Warn().Err(err).Msg("recorder: tick")
		}
	}
	return st, nil
}

// Enqueue adds an action for the next tick.
func (s *Session) Enqueue(a Action) error {
	if err := s.checkLive("enqueue"); err != nil {
		return err
	}
	s.queue.Push(a)
	s.inst.enqueue(context.Background(), a.Kind)
	return nil
}

func (s *Session) MoveForward() error               { return s.Enqueue(MoveForward()) }
func (s *Session) MoveBackward() error              { return s.Enqueue(MoveBackward()) }
func (s *Session) StrafeLeft() error                { return s.Enqueue(StrafeLeft()) }
func (s *Session) StrafeRight() error               { return s.Enqueue(StrafeRight()) }
func (s *Session) Stop() error                      { return s.Enqueue(Stop()) }
func (s *Session) LookAt(x, y, z float64) error     { return s.Enqueue(LookAt(x, y, z)) }
func (s *Session) SetLook(yaw, pitch float64) error { return s.Enqueue(SetLook(yaw, pitch)) }
func (s *Session) Attack() error                    { return s.Enqueue(Attack()) }
func (s *Session) Jump() error                      { return s.Enqueue(Jump()) }
func (s *Session) Sprint(on bool) error             { return s.Enqueue(Sprint(on)) }
func (s *Session) Sneak(on bool) error              { return s.Enqueue(Sneak(on)) }
func (s *Session) Eat() error                       { return s.Enqueue(Eat()) }
func (s *Session) Chat(text string) error           { return s.Enqueue(Chat(text)) }

// Pending is the number of actions waiting for the next tick.
func (s *Session) Pending() int { return s.queue.Len() }

// Disconnect releases the connection. It is safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	wasLive := !s.state.Terminal()
	if wasLive {
		s.state = StateDisconnected
		s.cause = errors.New("disconnected by caller")
	}
	conn := s.conn
	s.conn = nil
	if s.closedAt.IsZero() {
		s.closedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasLive {
		s.log.Info().Msg("disconnected")
		s.recordClosed()
	}
}

// checkLive fails fast once the session has left InGame, and notices a
// connection that died between calls.
func (s *Session) checkLive(op string) error {
	s.mu.Lock()
	if s.state != StateInGame {
		err := s.disconnectedLocked(op)
		s.mu.Unlock()
		return err
	}
	conn := s.conn
	s.mu.Unlock()

	select {
	case <-conn.Done():
		err := newError(KindDisconnected, s.handle, op, causeOf(conn, nil))
		s.fail(StateDisconnected, err)
		return err
	default:
		return nil
	}
}

func (s *Session) disconnectedLocked(op string) error {
	return newError(KindDisconnected, s.handle, op, s.cause)
}

// fail moves to a terminal state once and releases the connection.
func (s *Session) fail(st State, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.cause = err
	conn := s.conn
	s.conn = nil
	s.closedAt = time.Now().UTC()
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.log.Warn().Err(err).Str("state", st.String()).Msg("session ended")
	s.recordClosed()
}

func (s *Session) recordClosed() {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SessionClosed(s.Record()); err != nil {
		s.log.Warn().Err(err).Msg("recorder: session closed")
	}
}

// Record summarizes the session.
func (s *Session) Record() SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := SessionRecord{
		Handle:   s.handle,
		Name:     s.target.Name,
		Host:     s.target.Host,
		Port:     s.target.Port,
		State:    s.state.String(),
		Tick:     s.tick,
		OpenedAt: s.openedAt,
		ClosedAt: s.closedAt,
	}
	if s.cause != nil {
		r.LastError = s.cause.Error()
	}
	return r
}

func (s *Session) String() string {
	return fmt.Sprintf("%s(%s)", s.target.Name, s.handle)
}
