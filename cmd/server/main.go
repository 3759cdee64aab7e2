package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickbridge.ai/internal/arenasrv"
	"tickbridge.ai/internal/config"
	"tickbridge.ai/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tickbridge.yaml (optional)")
		envFile    = flag.String("env", ".env", "dotenv file loaded before the config (optional)")
		listen     = flag.String("listen", "", "override arena.listen")
		lockstep   = flag.Bool("lockstep", true, "step only when a client asks to advance (false: fixed tick rate)")
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
		cfg.Arena.Listen = *listen
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "lockstep" {
			cfg.Arena.Lockstep = *lockstep
		}
	})

	logger := logging.New(cfg.Log).With().Str("svc", "arena").Logger()

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := arenasrv.Start(ctx, arenasrv.Options{
		Arena:  cfg.Arena,
		WSPath: cfg.Bridge.WSPath,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("start arena")
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case <-rt.Done():
	}
	rt.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
