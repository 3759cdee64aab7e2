package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tickbridge.ai/internal/arenasrv"
	persistlog "tickbridge.ai/internal/persistence/log"
	"tickbridge.ai/internal/sim/tuning"
)

func main() {
	var (
		logDir     = flag.String("logs", "./data/arena", "arena log_dir (reads <logs>/events)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning the arena ran with")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		trajDir    = flag.String("trajectories", "", "bridge record.dir to summarize instead (optional)")
	)
	flag.Parse()

	if *trajDir != "" {
		if err := summarizeTrajectories(*trajDir); err != nil {
			fmt.Fprintln(os.Stderr, "trajectories:", err)
			os.Exit(1)
		}
		return
	}

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "tuning not found (%s); using defaults\n", *tuningPath)
		tune = tuning.Defaults()
	}

	res, err := arenasrv.Replay(arenasrv.ReplayOptions{LogDir: *logDir, Tuning: tune, ToTick: *toTick})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: files=%d checked=%d ticks digest=%s\n", res.Files, res.Checked, res.Digest)
}

func summarizeTrajectories(dir string) error {
	files, err := persistlog.ListFiles(filepath.Join(dir, "trajectories"), "trajectory")
	if err != nil {
		return err
	}
	type summary struct {
		name  string
		ticks int
		state string
	}
	var order []string
	byHandle := map[string]*summary{}
	get := func(handle, name string) *summary {
		s, ok := byHandle[handle]
		if !ok {
			s = &summary{name: name}
			byHandle[handle] = s
			order = append(order, handle)
		}
		return s
	}
	for _, path := range files {
		err := persistlog.ScanTrajectory(path, func(l persistlog.TrajectoryLine) error {
			switch {
			case l.Session != nil:
				s := get(l.Session.Handle, l.Session.Name)
				s.name, s.state = l.Session.Name, l.Session.State
			case l.Tick != nil:
				get(l.Tick.Handle, "").ticks++
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, h := range order {
		s := byHandle[h]
		fmt.Printf("%s name=%s ticks=%d state=%s\n", h, s.name, s.ticks, strings.ToLower(s.state))
	}
	fmt.Printf("sessions=%d files=%d\n", len(order), len(files))
	return nil
}
