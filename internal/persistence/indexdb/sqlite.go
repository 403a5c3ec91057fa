// Package indexdb keeps a queryable audit trail of reconcile cycles and the
// per-path changes they committed. It is a secondary index: writes are
// asynchronous and dropped under pressure rather than stalling callers.
package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropCycle    atomic.Uint64
	dropChange   atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqCycle reqKind = iota + 1
	reqChange
	reqSnapshot
)

type req struct {
	kind reqKind

	cycle    CycleRow
	change   ChangeRow
	snapshot snapshotRow
}

// CycleRow summarizes one reconcile round trip against the authority.
type CycleRow struct {
	Session    string
	Namespace  string
	Revision   uint64
	Outcome    string
	Commands   int
	Failed     int
	Error      string
	RecordedAt string
}

// ChangeRow records one committed path mutation.
type ChangeRow struct {
	Session    string
	Namespace  string
	Revision   uint64
	Path       string
	Op         string
	OldJSON    string
	NewJSON    string
	Comment    string
	RecordedAt string
}

type snapshotRow struct {
	Path       string
	Entries    int
	RecordedAt string
}

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
		// Large buffer: a burst of command batches must not stall the engine.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
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
		`CREATE TABLE IF NOT EXISTS cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			namespace TEXT NOT NULL,
			revision INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			commands INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_session ON cycles(session, namespace, id);`,
		`CREATE TABLE IF NOT EXISTS changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			namespace TEXT NOT NULL,
			revision INTEGER NOT NULL,
			path TEXT NOT NULL,
			op TEXT NOT NULL,
			old_json TEXT,
			new_json TEXT,
			comment TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_changes_session_path ON changes(session, namespace, path, id);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			entries INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
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

func (s *SQLiteIndex) RecordCycle(row CycleRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if row.RecordedAt == "" {
		row.RecordedAt = now()
	}
	select {
	case s.ch <- req{kind: reqCycle, cycle: row}:
	default:
		s.dropCycle.Add(1)
	}
}

func (s *SQLiteIndex) RecordChange(row ChangeRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if row.RecordedAt == "" {
		row.RecordedAt = now()
	}
	select {
	case s.ch <- req{kind: reqChange, change: row}:
	default:
		s.dropChange.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, entries int) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: snapshotRow{Path: path, Entries: entries, RecordedAt: now()}}:
	default:
		s.dropSnapshot.Add(1)
	}
}

type Stats struct {
	DropCycleTotal    uint64
	DropChangeTotal   uint64
	DropSnapshotTotal uint64
	QueueDepth        int
	QueueCapacity     int
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		DropCycleTotal:    s.dropCycle.Load(),
		DropChangeTotal:   s.dropChange.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

func (s *SQLiteIndex) loop() {
	insertCycle, _ := s.db.Prepare(`INSERT INTO cycles(session,namespace,revision,outcome,commands,failed,error,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	insertChange, _ := s.db.Prepare(`INSERT INTO changes(session,namespace,revision,path,op,old_json,new_json,comment,recorded_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,entries,recorded_at) VALUES(?,?,?)`)
	defer func() {
		if insertCycle != nil {
			_ = insertCycle.Close()
		}
		if insertChange != nil {
			_ = insertChange.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqCycle:
			if insertCycle == nil {
				continue
			}
			c := r.cycle
			_, _ = insertCycle.Exec(c.Session, c.Namespace, c.Revision, c.Outcome, c.Commands, c.Failed, c.Error, c.RecordedAt)
		case reqChange:
			if insertChange == nil {
				continue
			}
			c := r.change
			_, _ = insertChange.Exec(c.Session, c.Namespace, c.Revision, c.Path, c.Op, c.OldJSON, c.NewJSON, c.Comment, c.RecordedAt)
		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			_, _ = insertSnapshot.Exec(r.snapshot.Path, r.snapshot.Entries, r.snapshot.RecordedAt)
		}
	}
}

// RecentCycles returns the newest cycles for a selector, newest first.
func (s *SQLiteIndex) RecentCycles(session, namespace string, limit int) ([]CycleRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT session,namespace,revision,outcome,commands,failed,COALESCE(error,''),recorded_at
		 FROM cycles WHERE session=? AND namespace=? ORDER BY id DESC LIMIT ?`,
		session, namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRow
	for rows.Next() {
		var c CycleRow
		if err := rows.Scan(&c.Session, &c.Namespace, &c.Revision, &c.Outcome, &c.Commands, &c.Failed, &c.Error, &c.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PathHistory returns committed changes for one path, oldest first.
func (s *SQLiteIndex) PathHistory(session, namespace, path string, limit int) ([]ChangeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT session,namespace,revision,path,op,COALESCE(old_json,''),COALESCE(new_json,''),COALESCE(comment,''),recorded_at
		 FROM changes WHERE session=? AND namespace=? AND path=? ORDER BY id ASC LIMIT ?`,
		session, namespace, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var c ChangeRow
		if err := rows.Scan(&c.Session, &c.Namespace, &c.Revision, &c.Path, &c.Op, &c.OldJSON, &c.NewJSON, &c.Comment, &c.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
