package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickbridge.ai/internal/bridge"
	"tickbridge.ai/internal/sim/hub"
	"tickbridge.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of sessions and ticks. Writes are
// queued and applied by one goroutine in batched transactions; the JSONL logs
// remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSession   atomic.Uint64
	dropTick      atomic.Uint64
	dropArenaTick atomic.Uint64
	writeErrs     atomic.Uint64
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqTick
	reqArenaTick
	reqFlush
)

type req struct {
	kind reqKind

	session   bridge.SessionRecord
	tick      bridge.TickRecord
	arenaTick hub.TickLogEntry
	flushed   chan struct{}
}

// Stats reports queue health.
type Stats struct {
	QueueDepth         int    `json:"queue_depth"`
	QueueCapacity      int    `json:"queue_capacity"`
	DropSessionTotal   uint64 `json:"drop_session_total"`
	DropTickTotal      uint64 `json:"drop_tick_total"`
	DropArenaTickTotal uint64 `json:"drop_arena_tick_total"`
	WriteErrorTotal    uint64 `json:"write_error_total"`
}

const (
	defaultQueue  = 65536
	commitEvery   = 2000
	commitMaxWait = 2 * time.Second
)

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			handle TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			host TEXT NOT NULL,
			port INTEGER NOT NULL,
			state TEXT NOT NULL,
			ticks INTEGER NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT,
			last_error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			handle TEXT NOT NULL,
			tick INTEGER NOT NULL,
			server_tick INTEGER NOT NULL,
			actions TEXT NOT NULL,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			health REAL NOT NULL,
			food REAL NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (handle, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS arena_ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			actions INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:         len(s.ch),
		QueueCapacity:      cap(s.ch),
		DropSessionTotal:   s.dropSession.Load(),
		DropTickTotal:      s.dropTick.Load(),
		DropArenaTickTotal: s.dropArenaTick.Load(),
		WriteErrorTotal:    s.writeErrs.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) SessionOpened(r bridge.SessionRecord) error {
	s.enqueue(req{kind: reqSession, session: r}, &s.dropSession)
	return nil
}

func (s *SQLiteIndex) SessionClosed(r bridge.SessionRecord) error {
	s.enqueue(req{kind: reqSession, session: r}, &s.dropSession)
	return nil
}

func (s *SQLiteIndex) RecordTick(r bridge.TickRecord) error {
	s.enqueue(req{kind: reqTick, tick: r}, &s.dropTick)
	return nil
}

// WriteTick indexes an arena tick log entry.
func (s *SQLiteIndex) WriteTick(e hub.TickLogEntry) error {
	s.enqueue(req{kind: reqArenaTick, arenaTick: e}, &s.dropArenaTick)
	return nil
}

// Flush commits everything queued before it. It returns false if the index is
// closed or ctx ends first.
func (s *SQLiteIndex) Flush(ctx context.Context) bool {
	if s.closed.Load() {
		return false
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return false
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UpsertTuning stores the arena tuning in effect with its digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows := [][2]string{
		{"schema_version", "1"},
		{"tuning", string(b)},
		{"tuning_digest", hex.EncodeToString(sum[:])},
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, r[0], r[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SessionRow is a sessions row as stored.
type SessionRow struct {
	Handle    string
	Name      string
	State     string
	Ticks     uint64
	LastError string
}

func (s *SQLiteIndex) Session(ctx context.Context, handle string) (SessionRow, error) {
	var r SessionRow
	var lastErr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT handle,name,state,ticks,last_error FROM sessions WHERE handle=?`, handle,
	).Scan(&r.Handle, &r.Name, &r.State, &r.Ticks, &lastErr)
	r.LastError = lastErr.String
	return r, err
}

// CountTicks returns the number of indexed ticks for a session.
func (s *SQLiteIndex) CountTicks(ctx context.Context, handle string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks WHERE handle=?`, handle).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(handle,name,host,port,state,ticks,opened_at,closed_at,last_error) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(handle,tick,server_tick,actions,x,y,z,health,food,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertArenaTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO arena_ticks(tick,digest,joins,leaves,actions,raw_json) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, insertTick, insertArenaTick} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrs.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrs.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrs.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// The ticker bounds how long a quiet queue can hold an open transaction.
	flushTicker := time.NewTicker(commitMaxWait)
	defer flushTicker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			if r.kind == reqFlush {
				commit()
				close(r.flushed)
				continue
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqSession:
				se := r.session
				var closedAt any
				if !se.ClosedAt.IsZero() {
					closedAt = se.ClosedAt.UTC().Format(time.RFC3339Nano)
				}
				exec(insertSession,
					se.Handle, se.Name, se.Host, se.Port, se.State, int64(se.Tick),
					se.OpenedAt.UTC().Format(time.RFC3339Nano), closedAt, se.LastError,
				)
			case reqTick:
				tk := r.tick
				raw, _ := json.Marshal(tk)
				exec(insertTick,
					tk.Handle, int64(tk.Tick), int64(tk.ServerTick), strings.Join(tk.Actions, ","),
					tk.State.X, tk.State.Y, tk.State.Z, tk.State.Health, tk.State.Food,
					string(raw),
				)
			case reqArenaTick:
				e := r.arenaTick
				raw, _ := json.Marshal(e)
				exec(insertArenaTick,
					int64(e.Tick), e.Digest, len(e.Joins), len(e.Leaves), len(e.Actions), string(raw),
				)
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-flushTicker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

var (
	_ bridge.Recorder = (*SQLiteIndex)(nil)
	_ hub.TickLogger  = (*SQLiteIndex)(nil)
)
