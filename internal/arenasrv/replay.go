package arenasrv

import (
	"errors"
	"fmt"
	"path/filepath"

	persistlog "tickbridge.ai/internal/persistence/log"
	"tickbridge.ai/internal/sim/arena"
	"tickbridge.ai/internal/sim/hub"
	"tickbridge.ai/internal/sim/tuning"
)

// errStop ends a scan early once ToTick is passed.
var errStop = errors.New("stop")

type ReplayOptions struct {
	// LogDir is the arena log_dir; tick logs are read from LogDir/events.
	LogDir string
	Tuning tuning.Tuning
	// ToTick stops after this tick when non-zero.
	ToTick uint64
}

type ReplayResult struct {
	Files   int
	Checked uint64
	Digest  string
}

// Replay rebuilds a fresh arena from the recorded tick log and checks every
// step digest against the one recorded live.
func Replay(opts ReplayOptions) (ReplayResult, error) {
	dir := filepath.Join(opts.LogDir, "events")
	files, err := persistlog.ListFiles(dir, "events")
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return ReplayResult{}, fmt.Errorf("no events files found in %s", dir)
	}
	a, err := arena.New(opts.Tuning)
	if err != nil {
		return ReplayResult{}, err
	}

	res := ReplayResult{Files: len(files)}
	for _, path := range files {
		err := persistlog.ScanTicks(path, func(e hub.TickLogEntry) error {
			if opts.ToTick != 0 && e.Tick > opts.ToTick {
				return errStop
			}
			got, err := hub.ApplyEntry(a, e)
			if err != nil {
				return err
			}
			if got != e.Digest {
				return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", e.Tick, got, e.Digest)
			}
			res.Checked++
			res.Digest = got
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return res, nil
}
