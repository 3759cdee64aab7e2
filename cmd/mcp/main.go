package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/arenasrv"
	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/config"
	"tickbridge.ai/internal/engine/wsclient"
	"tickbridge.ai/internal/logging"
	"tickbridge.ai/internal/mcp"
	"tickbridge.ai/internal/persistence/indexdb"
	persistlog "tickbridge.ai/internal/persistence/log"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tickbridge.yaml (optional)")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config (optional)")
		listen     = flag.String("listen", "", "override mcp.listen")
		embed      = flag.Bool("embed-arena", false, "also run the reference arena in this process")
	)
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.MCP.Listen = *listen
	}
	if *embed {
		cfg.MCP.EmbedArena = true
	}

	logger := logging.New(cfg.Log).With().Str("svc", "mcp").Logger()
	if err := mcp.CheckListen(cfg.MCP.Listen, cfg.MCP.HMACSecret); err != nil {
		logger.Fatal().Err(err).Msg("refusing insecure listen")
	}

	ctx, cancel := signalContext()
	defer cancel()

	if cfg.MCP.EmbedArena {
		rt, err := arenasrv.Start(ctx, arenasrv.Options{Arena: cfg.Arena, WSPath: cfg.Bridge.WSPath, Logger: logger})
		if err != nil {
			logger.Fatal().Err(err).Msg("embedded arena")
		}
		defer rt.Close()
	}

	br, err := bridge.NewManager(cfg.BridgeManager(), &wsclient.Dialer{
		Path:             cfg.Bridge.WSPath,
		HandshakeTimeout: cfg.Bridge.ConnectTimeout,
		Log:              logger,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge")
	}
	closeRecorders, err := attachRecorders(br, cfg.Record, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("recorders")
	}
	// Sessions write their closing record before the recorders go away.
	defer func() {
		_ = br.Close()
		closeRecorders()
	}()

	srv, err := mcp.NewServer(mcp.Config{
		Bridge:          br,
		HMACSecret:      cfg.MCP.HMACSecret,
		AllowLegacyHMAC: cfg.MCP.AllowLegacyHMAC,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("mcp")
	}

	httpSrv := &http.Server{
		Addr:              cfg.MCP.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	authMode := "none(loopback-only)"
	if cfg.MCP.HMACSecret != "" {
		authMode = "hmac"
	}
	logger.Info().
		Str("addr", cfg.MCP.Listen).
		Str("auth_mode", authMode).
		Bool("allow_legacy_hmac", cfg.MCP.AllowLegacyHMAC).
		Bool("embedded_arena", cfg.MCP.EmbedArena).
		Msg("listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("listen")
	}
}

// attachRecorders wires the trajectory log and sqlite index configured under
// record.* into the bridge. The returned func closes them.
func attachRecorders(br *bridge.Manager, rc config.RecordConfig, logger zerolog.Logger) (func(), error) {
	var (
		recs    bridge.MultiRecorder
		closers []func() error
	)
	if rc.Dir != "" {
		tl := persistlog.NewTrajectoryLogger(rc.Dir)
		recs = append(recs, tl)
		closers = append(closers, tl.Close)
	}
	if rc.IndexDB != "" {
		if err := os.MkdirAll(filepath.Dir(rc.IndexDB), 0o755); err != nil {
			return nil, err
		}
		idx, err := indexdb.OpenSQLite(rc.IndexDB)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, fmt.Errorf("open index: %w", err)
		}
		recs = append(recs, idx)
		closers = append(closers, idx.Close)
	}
	if len(recs) > 0 {
		br.SetRecorder(recs)
		logger.Info().Str("dir", rc.Dir).Str("index_db", rc.IndexDB).Msg("recording sessions")
	}
	return func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn().Err(err).Msg("close recorder")
			}
		}
	}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
