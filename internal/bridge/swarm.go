package bridge

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// SwarmMember is the outcome of connecting one name.
type SwarmMember struct {
	Name    string
	Session *Session // nil when Err is set
	Err     error
}

func (m SwarmMember) Handle() string {
	if m.Session == nil {
		return ""
	}
	return m.Session.Handle()
}

// Swarm is a fixed set of independent sessions connected together.
type Swarm struct {
	members []SwarmMember
	limit   int
}

// ConnectSwarm connects every name in parallel, at most MaxParallelConnect at
// a time. One failure never cancels the others; members keep request order.
func (m *Manager) ConnectSwarm(ctx context.Context, host string, port int, names []string) *Swarm {
	sw := &Swarm{members: make([]SwarmMember, len(names)), limit: m.cfg.MaxParallelConnect}
	var g errgroup.Group
	g.SetLimit(m.cfg.MaxParallelConnect)
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			s, err := m.Connect(ctx, host, port, name)
			sw.members[i] = SwarmMember{Name: name, Session: s, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, mb := range sw.members {
		if mb.Err == nil {
			ok++
		}
	}
	m.log.Info().Int("requested", len(names)).Int("connected", ok).Msg("swarm connected")
	return sw
}

func (sw *Swarm) Members() []SwarmMember {
	return append([]SwarmMember(nil), sw.members...)
}

// Sessions returns the members that connected, in request order.
func (sw *Swarm) Sessions() []*Session {
	var out []*Session
	for _, mb := range sw.members {
		if mb.Session != nil {
			out = append(out, mb.Session)
		}
	}
	return out
}

// SwarmTick is one member's result from TickAll.
type SwarmTick struct {
	Name   string
	Handle string
	State  GameState
	Err    error
}

// TickAll ticks every connected member in parallel. Sessions progress
// independently, so a slow or dead member only affects its own result.
func (sw *Swarm) TickAll(ctx context.Context) []SwarmTick {
	ss := sw.Sessions()
	out := make([]SwarmTick, len(ss))
	var g errgroup.Group
	for i, s := range ss {
		i, s := i, s
		g.Go(func() error {
			st, err := s.Tick(ctx)
			out[i] = SwarmTick{Name: s.Name(), Handle: s.Handle(), State: st, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (sw *Swarm) Disconnect() {
	var g errgroup.Group
	g.SetLimit(sw.limit)
	for _, s := range sw.Sessions() {
		s := s
		g.Go(func() error {
			s.Disconnect()
			return nil
		})
	}
	_ = g.Wait()
}
