package wsclient_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"tickbridge.ai/internal/engine"
	"tickbridge.ai/internal/engine/wsclient"
	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sim/arenatest"
)

func startArena(t *testing.T, opts arenatest.Options) (host string, port int, stop func()) {
	t.Helper()
	h := arenatest.Start(t, opts)
	return h.Host, h.Port, h.Stop
}

func TestDialJoinsAndAdvances(t *testing.T) {
	host, port, _ := startArena(t, arenatest.Options{Lockstep: true})
	d := &wsclient.Dialer{}

	var phases []engine.Phase
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := d.Dial(ctx, engine.Target{Host: host, Port: port, Name: "alice"}, func(p engine.Phase) {
		phases = append(phases, p)
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if len(phases) != 3 || phases[0] != engine.PhaseConnecting || phases[2] != engine.PhaseJoining {
		t.Fatalf("phases=%v", phases)
	}
	if c.Welcome().EntityID == 0 {
		t.Fatalf("missing entity id in welcome")
	}
	o, err := c.Latest()
	if err != nil || o.Tick != 0 {
		t.Fatalf("first obs: tick=%d err=%v", o.Tick, err)
	}

	if err := c.Send(ctx, protocol.ActMsg{Seq: 1, Advance: true, Intents: []protocol.Intent{{Type: protocol.IntentJump}}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for {
		select {
		case <-c.Notify():
			o, err := c.Latest()
			if err != nil {
				t.Fatalf("Latest: %v", err)
			}
			if o.AckSeq >= 1 {
				if o.Tick != 1 {
					t.Fatalf("tick=%d want 1", o.Tick)
				}
				return
			}
		case <-ctx.Done():
			t.Fatalf("no ack before deadline")
		}
	}
}

func TestDialRejectedIdentity(t *testing.T) {
	host, port, _ := startArena(t, arenatest.Options{Lockstep: true, AuthToken: "letmein"})
	d := &wsclient.Dialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := d.Dial(ctx, engine.Target{Host: host, Port: port, Name: "mallory", Token: "nope"}, nil)
	if !errors.Is(err, engine.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	var rej *engine.RejectedError
	if !errors.As(err, &rej) || rej.Code != protocol.ErrAuth {
		t.Fatalf("expected E_AUTH rejection, got %v", err)
	}

	c, err := d.Dial(ctx, engine.Target{Host: host, Port: port, Name: "bob", Token: "letmein"}, nil)
	if err != nil {
		t.Fatalf("Dial with token: %v", err)
	}
	defer c.Close()
	_, err = d.Dial(ctx, engine.Target{Host: host, Port: port, Name: "bob", Token: "letmein"}, nil)
	if !errors.Is(err, engine.ErrRejected) {
		t.Fatalf("duplicate name: expected ErrRejected, got %v", err)
	}
}

func TestDialUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	_ = ln.Close()

	d := &wsclient.Dialer{HandshakeTimeout: time.Second}
	_, err = d.Dial(context.Background(), engine.Target{Host: "127.0.0.1", Port: addr.Port, Name: "x"}, nil)
	if err == nil || errors.Is(err, engine.ErrRejected) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestDoneClosesWhenServerGoesAway(t *testing.T) {
	host, port, stop := startArena(t, arenatest.Options{Lockstep: true})
	d := &wsclient.Dialer{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := d.Dial(ctx, engine.Target{Host: host, Port: port, Name: "alice"}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	stop()
	select {
	case <-c.Done():
		if c.Err() == nil {
			t.Fatalf("expected a close reason")
		}
	case <-ctx.Done():
		t.Fatalf("Done not closed after server shutdown")
	}
	if err := c.Send(context.Background(), protocol.ActMsg{Seq: 1}); err == nil {
		t.Fatalf("Send after close should fail")
	}
}
