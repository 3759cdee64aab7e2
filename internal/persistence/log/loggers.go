package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/sim/hub"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// prefix-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger writes one arena tick per line under dir/events.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(dir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "events"), "events")}
}

func (l *TickLogger) WriteTick(v hub.TickLogEntry) error { return l.w.Write(v) }
func (l *TickLogger) Close() error                       { return l.w.Close() }

// Trajectory line kinds.
const (
	KindSessionOpened = "session_opened"
	KindSessionClosed = "session_closed"
	KindTick          = "tick"
)

// TrajectoryLine is one line of a trajectory file. Exactly one of Session and
// Tick is set, depending on Kind.
type TrajectoryLine struct {
	Kind    string                `json:"kind"`
	Session *bridge.SessionRecord `json:"session,omitempty"`
	Tick    *bridge.TickRecord    `json:"tick,omitempty"`
}

// TrajectoryLogger records what bridge callers saw, one line per session event
// or successful tick, under dir/trajectories.
type TrajectoryLogger struct{ w *JSONLZstdWriter }

func NewTrajectoryLogger(dir string) *TrajectoryLogger {
	return &TrajectoryLogger{w: NewJSONLZstdWriter(filepath.Join(dir, "trajectories"), "trajectory")}
}

func (l *TrajectoryLogger) SessionOpened(r bridge.SessionRecord) error {
	return l.w.Write(TrajectoryLine{Kind: KindSessionOpened, Session: &r})
}

func (l *TrajectoryLogger) SessionClosed(r bridge.SessionRecord) error {
	return l.w.Write(TrajectoryLine{Kind: KindSessionClosed, Session: &r})
}

func (l *TrajectoryLogger) RecordTick(r bridge.TickRecord) error {
	return l.w.Write(TrajectoryLine{Kind: KindTick, Tick: &r})
}

func (l *TrajectoryLogger) Close() error { return l.w.Close() }

var (
	_ hub.TickLogger  = (*TickLogger)(nil)
	_ bridge.Recorder = (*TrajectoryLogger)(nil)
)
