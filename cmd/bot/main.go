package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"

	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/config"
	"tickbridge.ai/internal/engine/wsclient"
	"tickbridge.ai/internal/logging"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to tickbridge.yaml (optional)")
		host       = flag.String("host", "127.0.0.1", "arena host")
		port       = flag.Int("port", 25565, "arena port")
		name       = flag.String("name", "bot", "player name (swarm members get a -N suffix)")
		swarm      = flag.Int("swarm", 1, "number of bots to connect")
		ticks      = flag.Int("ticks", 0, "stop after this many ticks (0 = until interrupted)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log).With().Str("svc", "bot").Logger()

	m, err := bridge.NewManager(cfg.BridgeManager(), &wsclient.Dialer{Path: cfg.Bridge.WSPath, Log: logger}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge")
	}
	defer m.Close()

	names := []string{*name}
	if *swarm > 1 {
		names = names[:0]
		for i := 0; i < *swarm; i++ {
			names = append(names, fmt.Sprintf("%s-%d", *name, i+1))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sw := m.ConnectSwarm(ctx, *host, *port, names)
	for _, mb := range sw.Members() {
		if mb.Err != nil {
			logger.Warn().Str("name", mb.Name).Err(mb.Err).Msg("connect failed")
		}
	}
	if len(sw.Sessions()) == 0 {
		logger.Fatal().Msg("no bot connected")
	}
	defer sw.Disconnect()

	for n := 0; *ticks == 0 || n < *ticks; n++ {
		if ctx.Err() != nil {
			return
		}
		for _, s := range sw.Sessions() {
			st, err := s.GetState()
			if err != nil {
				continue
			}
			for _, a := range decide(st) {
				_ = s.Enqueue(a)
			}
		}
		results := sw.TickAll(ctx)
		live := 0
		for _, r := range results {
			if r.Err != nil {
				logger.Debug().Str("name", r.Name).Err(r.Err).Msg("tick failed")
				continue
			}
			live++
			if r.State.Tick%100 == 0 {
				logEvent(logger, r)
			}
		}
		if live == 0 {
			logger.Info().Msg("all bots disconnected")
			return
		}
	}
}

// decide hunts the nearest zombie, eats when hungry and otherwise wanders.
func decide(st bridge.GameState) []bridge.Action {
	var out []bridge.Action
	if st.Food < 10 {
		out = append(out, bridge.Eat())
	}
	z, ok := st.NearestEntity(bridge.EntityZombie, 32)
	if !ok {
		if st.Tick%40 == 0 {
			out = append(out, bridge.SetLook(float64((st.Tick/40)*73%360), 0))
		}
		return append(out, bridge.MoveForward())
	}
	p := z.Position
	out = append(out, bridge.LookAt(p.X(), p.Y()+1.5, p.Z()))
	if st.DistanceTo(p) > 2.5 {
		return append(out, bridge.Sprint(true), bridge.MoveForward())
	}
	out = append(out, bridge.Stop())
	if st.AttackCooldown >= 1 {
		out = append(out, bridge.AttackEntity(z.ID))
	}
	return out
}

func logEvent(logger zerolog.Logger, r bridge.SwarmTick) {
	logger.Info().
		Str("name", r.Name).
		Uint64("tick", r.State.Tick).
		Float64("x", r.State.X()).
		Float64("z", r.State.Z()).
		Float64("health", r.State.Health).
		Float64("food", r.State.Food).
		Int("entities", len(r.State.Entities())).
		Msg("status")
}
