package bridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"tickbridge.ai/internal/engine"
	"tickbridge.ai/internal/protocol"
)

// EyeHeight is added to the feet position when aiming with LookAt.
const EyeHeight = 1.62

var errTickTimeout = errors.New("no acknowledgement before deadline")

// synchronizer advances one session by exactly one server step per call.
type synchronizer struct {
	conn    engine.Conn
	queue   *Queue
	timeout time.Duration

	// sem admits one outstanding tick from acquire until release; later callers
	// wait or give up with ctx.
	sem chan struct{}

	// Only touched while holding sem.
	seq     uint64
	forward float64
	strafe  float64
}

func newSynchronizer(conn engine.Conn, q *Queue, timeout time.Duration) *synchronizer {
	return &synchronizer{
		conn:    conn,
		queue:   q,
		timeout: timeout,
		sem:     make(chan struct{}, 1),
	}
}

type tickResult struct {
	obs     protocol.ObsMsg
	applied []Action
}

// acquire takes the single tick slot. The holder must call release once its
// result is committed.
func (t *synchronizer) acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return t.ctxError(ctx)
	}
}

func (t *synchronizer) release() { <-t.sem }

// step drains the queue, sends one ACT and waits for a frame acknowledging it.
// The caller holds the tick slot. The returned error is a *Error without a
// session handle.
func (t *synchronizer) step(ctx context.Context, last GameState) (tickResult, error) {
	actions := t.queue.Drain()
	intents := t.translate(actions, last)
	t.seq++
	seq := t.seq

	act := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Advance:         true,
		Intents:         intents,
	}
	if err := t.conn.Send(ctx, act); err != nil {
		select {
		case <-t.conn.Done():
			return tickResult{}, newError(KindDisconnected, "", "tick", causeOf(t.conn, err))
		default:
		}
		if ctx.Err() != nil {
			return tickResult{}, t.ctxError(ctx)
		}
		return tickResult{}, newError(KindDisconnected, "", "tick", err)
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	for {
		obs, err := t.conn.Latest()
		if err != nil {
			return tickResult{}, newError(KindProtocol, "", "tick", err)
		}
		if obs.AckSeq >= seq {
			return tickResult{obs: obs, applied: actions}, nil
		}
		select {
		case <-ctx.Done():
			return tickResult{}, t.ctxError(ctx)
		case <-timer.C:
			return tickResult{}, newError(KindTimeout, "", "tick", fmt.Errorf("seq %d: %w", seq, errTickTimeout))
		case <-t.conn.Done():
			// The ack may have landed just before the close.
			if obs, err := t.conn.Latest(); err == nil && obs.AckSeq >= seq {
				return tickResult{obs: obs, applied: actions}, nil
			}
			return tickResult{}, newError(KindDisconnected, "", "tick", causeOf(t.conn, nil))
		case <-t.conn.Notify():
		}
	}
}

func (t *synchronizer) ctxError(ctx context.Context) error {
	return newError(KindTimeout, "", "tick", ctx.Err())
}

func causeOf(c engine.Conn, fallback error) error {
	if err := c.Err(); err != nil {
		return err
	}
	if fallback != nil {
		return fallback
	}
	return errors.New("connection closed")
}

// translate turns queued actions into protocol intents, in order. Movement is
// persistent on the server, so every MOVE carries the full forward/strafe pair.
func (t *synchronizer) translate(actions []Action, last GameState) []protocol.Intent {
	out := make([]protocol.Intent, 0, len(actions))
	move := func() protocol.Intent {
		return protocol.Intent{Type: protocol.IntentMove, Forward: t.forward, Strafe: t.strafe}
	}
	for _, a := range actions {
		switch a.Kind {
		case ActionMoveForward:
			t.forward = 1
			out = append(out, move())
		case ActionMoveBackward:
			t.forward = -1
			out = append(out, move())
		case ActionStrafeLeft:
			t.strafe = 1
			out = append(out, move())
		case ActionStrafeRight:
			t.strafe = -1
			out = append(out, move())
		case ActionStop:
			t.forward, t.strafe = 0, 0
			out = append(out, move())
		case ActionLookAt:
			yaw, pitch := lookAngles(last, a.Target)
			out = append(out, protocol.Intent{Type: protocol.IntentLook, Yaw: yaw, Pitch: pitch})
		case ActionSetLook:
			out = append(out, protocol.Intent{Type: protocol.IntentLook, Yaw: wrapYaw(a.Yaw), Pitch: mgl64.Clamp(a.Pitch, -90, 90)})
		case ActionAttack:
			out = append(out, protocol.Intent{Type: protocol.IntentAttack, Target: a.EntityID})
		case ActionJump:
			out = append(out, protocol.Intent{Type: protocol.IntentJump})
		case ActionSprint:
			out = append(out, protocol.Intent{Type: protocol.IntentSprint, On: a.On})
		case ActionSneak:
			out = append(out, protocol.Intent{Type: protocol.IntentSneak, On: a.On})
		case ActionEat:
			out = append(out, protocol.Intent{Type: protocol.IntentEat})
		case ActionChat:
			out = append(out, protocol.Intent{Type: protocol.IntentChat, Text: a.Text})
		}
	}
	return out
}

// lookAngles aims from the eye position of the last snapshot. Yaw 0 faces +Z,
// positive pitch looks down.
func lookAngles(from GameState, target mgl64.Vec3) (yaw, pitch float64) {
	eye := from.Position.Add(mgl64.Vec3{0, EyeHeight, 0})
	d := target.Sub(eye)
	h := math.Hypot(d.X(), d.Z())
	yaw = from.Yaw
	if h > 0 {
		yaw = wrapYaw(mgl64.RadToDeg(math.Atan2(-d.X(), d.Z())))
	}
	pitch = mgl64.Clamp(-mgl64.RadToDeg(math.Atan2(d.Y(), h)), -90, 90)
	return yaw, pitch
}
