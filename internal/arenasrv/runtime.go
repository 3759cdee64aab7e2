// Package arenasrv runs the reference arena as an HTTP service: the hub loop,
// the websocket endpoint, tick logs and the optional sqlite index.
package arenasrv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/config"
	"tickbridge.ai/internal/persistence/indexdb"
	persistlog "tickbridge.ai/internal/persistence/log"
	"tickbridge.ai/internal/sim/arena"
	"tickbridge.ai/internal/sim/hub"
	"tickbridge.ai/internal/sim/tuning"
	"tickbridge.ai/internal/transport/ws"
)

type Options struct {
	Arena  config.ArenaConfig
	WSPath string
	Logger zerolog.Logger
}

// Runtime is a running arena server. Close stops everything it started.
type Runtime struct {
	Hub    *hub.Hub
	Tuning tuning.Tuning

	log     zerolog.Logger
	ln      net.Listener
	httpSrv *http.Server
	wsSrv   *ws.Server
	tickLog *persistlog.TickLogger
	idx     *indexdb.SQLiteIndex

	cancel    context.CancelFunc
	hubDone   chan struct{}
	closeOnce sync.Once
}

// Start loads tuning, builds the arena and begins serving on opts.Arena.Listen.
// The runtime stops when ctx ends or Close is called.
func Start(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger.With().Str("component", "arena").Logger()

	tune, err := loadTuning(opts.Arena.Tuning, logger)
	if err != nil {
		return nil, err
	}
	a, err := arena.New(tune)
	if err != nil {
		return nil, fmt.Errorf("arena: %w", err)
	}

	var tickLog *persistlog.TickLogger
	if opts.Arena.LogDir != "" {
		if err := os.MkdirAll(opts.Arena.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("log dir: %w", err)
		}
		tickLog = persistlog.NewTickLogger(opts.Arena.LogDir)
	}
	idx, err := openIndex(opts.Arena.IndexDB, tune, logger)
	if err != nil {
		if tickLog != nil {
			_ = tickLog.Close()
		}
		return nil, err
	}

	h := hub.New(hub.Config{Lockstep: opts.Arena.Lockstep, AuthToken: opts.Arena.AuthToken}, a, opts.Logger)
	if tl := multiTickLogger(tickLog, idx); tl != nil {
		h.SetTickLogger(tl)
	}

	ln, err := net.Listen("tcp", opts.Arena.Listen)
	if err != nil {
		if tickLog != nil {
			_ = tickLog.Close()
		}
		if idx != nil {
			_ = idx.Close()
		}
		return nil, fmt.Errorf("arena listen: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rt := &Runtime{
		Hub:     h,
		Tuning:  tune,
		log:     logger,
		ln:      ln,
		wsSrv:   ws.NewServer(h, opts.Logger),
		tickLog: tickLog,
		idx:     idx,
		cancel:  cancel,
		hubDone: make(chan struct{}),
	}

	wsPath := opts.WSPath
	if wsPath == "" {
		wsPath = "/v1/ws"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.writeMetrics)
	mux.HandleFunc(wsPath, rt.wsSrv.Handler())
	rt.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer close(rt.hubDone)
		if err := h.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("hub stopped")
		}
	}()
	go func() {
		if err := rt.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("serve")
		}
	}()
	go func() {
		<-runCtx.Done()
		rt.Close()
	}()

	logger.Info().
		Str("addr", ln.Addr().String()).
		Str("ws_path", wsPath).
		Bool("lockstep", opts.Arena.Lockstep).
		Int("tick_rate_hz", tune.TickRateHz).
		Bool("auth", opts.Arena.AuthToken != "").
		Msg("arena listening")
	return rt, nil
}

// Addr is the bound listen address.
func (r *Runtime) Addr() net.Addr { return r.ln.Addr() }

// HostPort splits Addr for bridge clients.
func (r *Runtime) HostPort() (string, int) {
	host, p, _ := net.SplitHostPort(r.ln.Addr().String())
	port, _ := strconv.Atoi(p)
	return host, port
}

// Done is closed once the hub loop has exited.
func (r *Runtime) Done() <-chan struct{} { return r.hubDone }

func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.httpSrv.Shutdown(ctx)
		r.wsSrv.Close()
		r.cancel()
		<-r.hubDone
		if r.tickLog != nil {
			if err := r.tickLog.Close(); err != nil {
				r.log.Warn().Err(err).Msg("close tick log")
			}
		}
		if r.idx != nil {
			if err := r.idx.Close(); err != nil {
				r.log.Warn().Err(err).Msg("close index")
			}
		}
		r.log.Info().Uint64("tick", r.Hub.CurrentTick()).Msg("arena stopped")
	})
}

func loadTuning(path string, logger zerolog.Logger) (tuning.Tuning, error) {
	if path == "" {
		return tuning.Defaults(), nil
	}
	tune, err := tuning.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn().Str("path", path).Msg("tuning not found; using defaults")
			return tuning.Defaults(), nil
		}
		return tuning.Tuning{}, fmt.Errorf("load tuning: %w", err)
	}
	return tune, nil
}

func openIndex(path string, tune tuning.Tuning, logger zerolog.Logger) (*indexdb.SQLiteIndex, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index dir: %w", err)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := idx.UpsertTuning(tune); err != nil {
		logger.Warn().Err(err).Msg("index: upsert tuning")
	}
	return idx, nil
}

type tickLoggers []hub.TickLogger

func (m tickLoggers) WriteTick(e hub.TickLogEntry) error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.WriteTick(e))
	}
	return errors.Join(errs...)
}

// multiTickLogger returns nil when neither sink is configured.
func multiTickLogger(tickLog *persistlog.TickLogger, idx *indexdb.SQLiteIndex) hub.TickLogger {
	var out tickLoggers
	if tickLog != nil {
		out = append(out, tickLog)
	}
	if idx != nil {
		out = append(out, idx)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (r *Runtime) writeMetrics(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(rw, "# HELP tickbridge_arena_tick Current arena tick.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_arena_tick gauge\n")
	fmt.Fprintf(rw, "tickbridge_arena_tick %d\n", r.Hub.CurrentTick())

	fmt.Fprintf(rw, "# HELP tickbridge_arena_clients Connected websocket clients.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_arena_clients gauge\n")
	fmt.Fprintf(rw, "tickbridge_arena_clients %d\n", r.wsSrv.Clients())

	if r.idx == nil {
		return
	}
	s := r.idx.Stats()
	fmt.Fprintf(rw, "# HELP tickbridge_index_queue_depth Current index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "tickbridge_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(rw, "# HELP tickbridge_index_queue_capacity Index write queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "tickbridge_index_queue_capacity %d\n", s.QueueCapacity)

	fmt.Fprintf(rw, "# HELP tickbridge_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_index_dropped_total counter\n")
	fmt.Fprintf(rw, "tickbridge_index_dropped_total{kind=%q} %d\n", "arena_tick", s.DropArenaTickTotal)

	fmt.Fprintf(rw, "# HELP tickbridge_index_write_errors_total Failed index writes.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_index_write_errors_total counter\n")
	fmt.Fprintf(rw, "tickbridge_index_write_errors_total %d\n", s.WriteErrorTotal)
}
