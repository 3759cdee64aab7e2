package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/arena"
)

const instrumentationName = "tickbridge.ai/internal/sim/hub"

type Config struct {
	// Lockstep steps the arena whenever an ACT with advance=true arrives
	// instead of on a wall-clock ticker.
	Lockstep  bool
	AuthToken string
}

type JoinRequest struct {
	Name  string
	Token string
	Out   chan []byte
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	Err     *protocol.ErrorMsg
}

type ActionEnvelope struct {
	EntityID int64
	Act      protocol.ActMsg
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type RecordedJoin struct {
	EntityID int64  `json:"entity_id"`
	Name     string `json:"name"`
}

type RecordedAction struct {
	EntityID int64             `json:"entity_id"`
	Seq      uint64            `json:"seq"`
	Intents  []protocol.Intent `json:"intents,omitempty"`
}

type TickLogEntry struct {
	Tick    uint64           `json:"tick"`
	Joins   []RecordedJoin   `json:"joins,omitempty"`
	Leaves  []int64          `json:"leaves,omitempty"`
	Actions []RecordedAction `json:"actions,omitempty"`
	Digest  string           `json:"digest"`
}

type client struct {
	out     chan []byte
	lastSeq uint64
	ackSeq  uint64
}

// Hub owns an arena and serialises every mutation through its Run loop.
type Hub struct {
	cfg   Config
	arena *arena.Arena
	log   zerolog.Logger

	join  chan JoinRequest
	leave chan int64
	inbox chan ActionEnvelope
	stop  chan struct{}
	done  chan struct{}

	clients map[int64]*client

	tickLogger TickLogger

	tick  atomic.Uint64
	steps metric.Int64Counter
	drops metric.Int64Counter

	// Pending since the previous step. Joins and leaves are applied when they
	// arrive and recorded with the next step so replays see the same order.
	pendingJoins   []RecordedJoin
	pendingLeaves  []int64
	pendingActions []ActionEnvelope
}

func New(cfg Config, a *arena.Arena, logger zerolog.Logger) *Hub {
	m := otel.Meter(instrumentationName)
	steps, _ := m.Int64Counter("arena.steps", metric.WithDescription("Arena steps executed"))
	drops, _ := m.Int64Counter("arena.obs.dropped", metric.WithDescription("Observations dropped for slow clients"))
	h := &Hub{
		cfg:     cfg,
		arena:   a,
		log:     logger.With().Str("component", "hub").Logger(),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan int64, 64),
		inbox:   make(chan ActionEnvelope, 1024),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		clients: map[int64]*client{},
		steps:   steps,
		drops:   drops,
	}
	h.tick.Store(a.Tick())
	return h
}

func (h *Hub) SetTickLogger(l TickLogger) { h.tickLogger = l }

func (h *Hub) Inbox() chan<- ActionEnvelope { return h.inbox }
func (h *Hub) Join() chan<- JoinRequest     { return h.join }
func (h *Hub) Leave() chan<- int64          { return h.leave }

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) CurrentTick() uint64 { return h.tick.Load() }
func (h *Hub) Lockstep() bool      { return h.cfg.Lockstep }

func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	var tickC <-chan time.Time
	if !h.cfg.Lockstep {
		interval := time.Second / time.Duration(h.arena.Tuning().TickRateHz)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.stop:
			return nil
		case req := <-h.join:
			h.handleJoin(req)
		case id := <-h.leave:
			h.handleLeave(id)
		case env := <-h.inbox:
			if h.enqueue(env) && h.cfg.Lockstep && env.Act.Advance {
				h.stepAndBroadcast()
			}
		case <-tickC:
			h.stepAndBroadcast()
		}
	}
}

func (h *Hub) Stop() { close(h.stop) }

func (h *Hub) handleJoin(req JoinRequest) {
	reject := func(code, msg string) {
		e := protocol.NewError(code, msg)
		req.Resp <- JoinResponse{Err: &e}
	}
	switch {
	case h.cfg.AuthToken != "" && req.Token != h.cfg.AuthToken:
		reject(protocol.ErrAuth, "invalid token")
		return
	case h.arena.HasName(req.Name):
		reject(protocol.ErrNameTaken, "name already in game: "+req.Name)
		return
	case h.arena.NumPlayers() >= h.arena.Tuning().MaxPlayers:
		reject(protocol.ErrServerFull, "arena is full")
		return
	}

	id := h.arena.Join(req.Name)
	h.clients[id] = &client{out: req.Out}
	h.pendingJoins = append(h.pendingJoins, RecordedJoin{EntityID: id, Name: req.Name})

	t := h.arena.Tuning()
	req.Resp <- JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		AgentID:         arena.AgentID(id),
		EntityID:        id,
		WorldParams: protocol.WorldParams{
			TickRateHz:     t.TickRateHz,
			TrackingRadius: t.TrackingRadius,
			Lockstep:       h.cfg.Lockstep,
			Seed:           t.Seed,
		},
	}}
	h.log.Info().Int64("entity_id", id).Str("name", req.Name).Msg("player joined")

	// The first OBS goes out before any step so the client can finish joining.
	h.sendObs(id, h.clients[id])
}

func (h *Hub) handleLeave(id int64) {
	if _, ok := h.clients[id]; !ok {
		return
	}
	delete(h.clients, id)
	h.arena.Leave(id)
	h.pendingLeaves = append(h.pendingLeaves, id)
	h.log.Info().Int64("entity_id", id).Msg("player left")
}

// accept drops actions from unknown clients and duplicate or reordered seqs.
func (h *Hub) accept(env ActionEnvelope) bool {
	c, ok := h.clients[env.EntityID]
	if !ok {
		return false
	}
	if env.Act.Seq <= c.lastSeq {
		h.log.Debug().Int64("entity_id", env.EntityID).Uint64("seq", env.Act.Seq).Msg("stale act dropped")
		return false
	}
	c.lastSeq = env.Act.Seq
	return true
}

// enqueue queues an accepted act for the next step. An advancing act replaces
// any advancing act from the same client that is still pending: the client
// gave up waiting on it and has moved on.
func (h *Hub) enqueue(env ActionEnvelope) bool {
	if !h.accept(env) {
		return false
	}
	if env.Act.Advance {
		kept := h.pendingActions[:0]
		for _, p := range h.pendingActions {
			if p.EntityID == env.EntityID && p.Act.Advance {
				h.log.Debug().Int64("entity_id", p.EntityID).Uint64("seq", p.Act.Seq).Msg("superseded act dropped")
				continue
			}
			kept = append(kept, p)
		}
		h.pendingActions = kept
	}
	h.pendingActions = append(h.pendingActions, env)
	return true
}

func (h *Hub) stepAndBroadcast() {
	entry := h.stepPending()
	if h.tickLogger != nil {
		if err := h.tickLogger.WriteTick(entry); err != nil {
			h.log.Warn().Err(err).Uint64("tick", entry.Tick).Msg("tick log write failed")
		}
	}
	for _, id := range sortedIDs(h.clients) {
		h.sendObs(id, h.clients[id])
	}
}

func (h *Hub) stepPending() TickLogEntry {
	entry := TickLogEntry{
		Tick:   h.arena.Tick(),
		Joins:  append([]RecordedJoin(nil), h.pendingJoins...),
		Leaves: append([]int64(nil), h.pendingLeaves...),
	}
	inputs := make([]arena.Input, 0, len(h.pendingActions))
	for _, env := range h.pendingActions {
		inputs = append(inputs, arena.Input{PlayerID: env.EntityID, Intents: env.Act.Intents})
		entry.Actions = append(entry.Actions, RecordedAction{EntityID: env.EntityID, Seq: env.Act.Seq, Intents: env.Act.Intents})
		if c, ok := h.clients[env.EntityID]; ok && env.Act.Seq > c.ackSeq {
			c.ackSeq = env.Act.Seq
		}
	}
	h.pendingJoins = h.pendingJoins[:0]
	h.pendingLeaves = h.pendingLeaves[:0]
	h.pendingActions = h.pendingActions[:0]

	h.tick.Store(h.arena.Step(inputs))
	entry.Digest = h.arena.Digest()

	mode := "fixed"
	if h.cfg.Lockstep {
		mode = "lockstep"
	}
	h.steps.Add(context.Background(), 1, metric.WithAttributes(attribute.String("mode", mode)))
	return entry
}

func (h *Hub) sendObs(id int64, c *client) {
	obs, ok := h.arena.ObsFor(id, c.ackSeq)
	if !ok {
		return
	}
	b, err := json.Marshal(obs)
	if err != nil {
		h.log.Error().Err(err).Int64("entity_id", id).Msg("encode obs")
		return
	}
	if !sendLatest(c.out, b) {
		h.drops.Add(context.Background(), 1)
	}
}

// ApplyEntry replays one recorded tick against an arena and returns the digest
// after the step. Ids must come out the same as when the entry was recorded.
func ApplyEntry(a *arena.Arena, e TickLogEntry) (string, error) {
	if a.Tick() != e.Tick {
		return "", &ReplayError{Tick: e.Tick, Reason: "tick out of order"}
	}
	for _, j := range e.Joins {
		if id := a.Join(j.Name); id != j.EntityID {
			return "", &ReplayError{Tick: e.Tick, Reason: "join id mismatch"}
		}
	}
	for _, id := range e.Leaves {
		a.Leave(id)
	}
	inputs := make([]arena.Input, 0, len(e.Actions))
	for _, act := range e.Actions {
		inputs = append(inputs, arena.Input{PlayerID: act.EntityID, Intents: act.Intents})
	}
	a.Step(inputs)
	return a.Digest(), nil
}

type ReplayError struct {
	Tick   uint64
	Reason string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay tick %d: %s", e.Tick, e.Reason)
}

// sendLatest keeps the newest frame when a slow reader's buffer is full.
// It reports false if an older frame had to be dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

func sortedIDs(m map[int64]*client) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
