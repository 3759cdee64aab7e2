// Package arenatest runs a reference arena behind a real websocket endpoint
// for black-box tests of clients and the bridge.
package arenatest

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/sim/arena"
	"tickbridge.ai/internal/sim/hub"
	"tickbridge.ai/internal/sim/tuning"
	"tickbridge.ai/internal/transport/ws"
)

// Path is where the harness serves the arena websocket.
const Path = "/v1/ws"

type Options struct {
	Lockstep  bool
	AuthToken string
	Zombies   int
	// Tune adjusts the default tuning before the arena is built.
	Tune func(*tuning.Tuning)
}

type Harness struct {
	Host  string
	Port  int
	Hub   *hub.Hub
	Arena *arena.Arena

	ws     *ws.Server
	srv    *httptest.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// Start builds an arena, runs its hub and serves it until the test ends.
func Start(t *testing.T, opts Options) *Harness {
	t.Helper()
	tu := tuning.Defaults()
	tu.Zombies.Count = opts.Zombies
	if opts.Tune != nil {
		opts.Tune(&tu)
	}
	a, err := arena.New(tu)
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	h := hub.New(hub.Config{Lockstep: opts.Lockstep, AuthToken: opts.AuthToken}, a, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	wsSrv := ws.NewServer(h, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc(Path, wsSrv.Handler())
	srv := httptest.NewServer(mux)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)

	hs := &Harness{Host: host, Port: port, Hub: h, Arena: a, ws: wsSrv, srv: srv, cancel: cancel, done: done}
	t.Cleanup(hs.Stop)
	return hs
}

// Stop drops every client and stops the hub. Safe to call more than once.
func (h *Harness) Stop() {
	h.ws.Close()
	h.srv.Close()
	h.cancel()
	<-h.done
}
