package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/engine"
	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/arena"
	"tickbridge.ai/internal/sim/tuning"
)

// arenaEngine is an in-process lockstep server: every ACT with advance steps
// the shared arena, like the hub does.
type arenaEngine struct {
	mu      sync.Mutex
	a       *arena.Arena
	conns   map[int64]*fakeConn
	pending []arena.Input
	acked   map[int64]uint64
	reject  map[string]string
}

func newArenaEngine(t *testing.T, zombies int) *arenaEngine {
	t.Helper()
	tu := tuning.Defaults()
	tu.Zombies.Count = zombies
	a, err := arena.New(tu)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	return &arenaEngine{a: a, conns: map[int64]*fakeConn{}, acked: map[int64]uint64{}, reject: map[string]string{}}
}

func (e *arenaEngine) Dial(ctx context.Context, t engine.Target, onPhase func(engine.Phase)) (engine.Conn, error) {
	if onPhase != nil {
		onPhase(engine.PhaseConnecting)
		onPhase(engine.PhaseAuthenticating)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.reject[t.Name]; ok {
		return nil, &engine.RejectedError{Code: code, Message: "rejected"}
	}
	if onPhase != nil {
		onPhase(engine.PhaseJoining)
	}
	id := e.a.Join(t.Name)
	c := newFakeConn()
	c.welcome = protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		EntityID:        id,
		AgentID:         arena.AgentID(id),
		WorldParams:     protocol.WorldParams{TrackingRadius: e.a.Tuning().TrackingRadius, Lockstep: true},
	}
	c.onSend = func(act protocol.ActMsg) error { return e.apply(id, act) }
	obs, _ := e.a.ObsFor(id, 0)
	c.deliver(obs)
	e.conns[id] = c
	return c, nil
}

func (e *arenaEngine) apply(id int64, act protocol.ActMsg) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, arena.Input{PlayerID: id, Intents: act.Intents})
	if act.Seq > e.acked[id] {
		e.acked[id] = act.Seq
	}
	if !act.Advance {
		return nil
	}
	e.a.Step(e.pending)
	e.pending = nil
	for cid, c := range e.conns {
		if obs, ok := e.a.ObsFor(cid, e.acked[cid]); ok {
			c.deliver(obs)
		}
	}
	return nil
}

func (e *arenaEngine) player(t *testing.T, id int64) *arena.Player {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.a.Player(id)
	if !ok {
		t.Fatalf("no player %d", id)
	}
	return p
}

// fakeConn is a scriptable engine.Conn.
type fakeConn struct {
	welcome protocol.WelcomeMsg

	mu        sync.Mutex
	latest    protocol.ObsMsg
	latestErr error
	sent      []protocol.ActMsg
	onSend    func(act protocol.ActMsg) error

	notify    chan struct{}
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{notify: make(chan struct{}, 1), done: make(chan struct{})}
}

func (c *fakeConn) Welcome() protocol.WelcomeMsg { return c.welcome }

func (c *fakeConn) Send(ctx context.Context, act protocol.ActMsg) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	c.mu.Lock()
	c.sent = append(c.sent, act)
	fn := c.onSend
	c.mu.Unlock()
	if fn != nil {
		return fn(act)
	}
	return nil
}

func (c *fakeConn) Latest() (protocol.ObsMsg, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest, c.latestErr
}

func (c *fakeConn) Notify() <-chan struct{} { return c.notify }
func (c *fakeConn) Done() <-chan struct{}   { return c.done }

func (c *fakeConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeConn) Close() error {
	c.drop(errors.New("closed by client"))
	return nil
}

func (c *fakeConn) deliver(o protocol.ObsMsg) {
	c.mu.Lock()
	c.latest = o
	c.latestErr = nil
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *fakeConn) deliverErr(err error) {
	c.mu.Lock()
	c.latestErr = err
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *fakeConn) drop(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) sentActs() []protocol.ActMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ActMsg(nil), c.sent...)
}

// connDialer hands out one prepared connection.
type connDialer struct {
	conn *fakeConn
	err  error
	// block makes Dial wait for the context.
	block bool
}

func (d *connDialer) Dial(ctx context.Context, t engine.Target, onPhase func(engine.Phase)) (engine.Conn, error) {
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

// ackingConn acknowledges every ACT with a frame built by obs.
func ackingConn(obs func(seq uint64) protocol.ObsMsg) *fakeConn {
	c := newFakeConn()
	c.welcome = protocol.WelcomeMsg{EntityID: 1, WorldParams: protocol.WorldParams{TrackingRadius: 48}}
	c.deliver(obs(0))
	c.onSend = func(act protocol.ActMsg) error {
		c.deliver(obs(act.Seq))
		return nil
	}
	return c
}

func baseObs(seq uint64) protocol.ObsMsg {
	return protocol.ObsMsg{
		Type:   protocol.TypeObs,
		Tick:   1000 + seq,
		AckSeq: seq,
		Self: protocol.SelfObs{
			EntityID:       1,
			Pos:            [3]float64{0, 64, 0},
			Health:         20,
			Food:           20,
			AttackCooldown: 1,
			OnGround:       true,
		},
		Entities: []protocol.EntityObs{},
	}
}

func newTestManager(t *testing.T, d engine.Dialer, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg, d, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func connectTest(t *testing.T, m *Manager, name string) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := m.Connect(ctx, "127.0.0.1", 25565, name)
	if err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
	return s
}

func tickTest(t *testing.T, s *Session) GameState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := s.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return st
}
