package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"tickbridge.ai/internal/sim/hub"
)

// ListFiles returns dir's prefix-*.jsonl.zst files in name order, which is
// chronological for the hourly naming scheme.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ScanFile calls fn for every line of a .jsonl.zst file. Returning an error
// from fn stops the scan.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ScanTicks decodes hub tick entries from an events file.
func ScanTicks(path string, fn func(hub.TickLogEntry) error) error {
	return ScanFile(path, func(line []byte) error {
		var e hub.TickLogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		return fn(e)
	})
}

// ScanTrajectory decodes trajectory lines.
func ScanTrajectory(path string, fn func(TrajectoryLine) error) error {
	return ScanFile(path, func(line []byte) error {
		var l TrajectoryLine
		if err := json.Unmarshal(line, &l); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		return fn(l)
	})
}
