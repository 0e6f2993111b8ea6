// Package audit records security and lifecycle events in a local SQLite
// database. Events are advisory: a failed write degrades to a log line and
// never fails the operation that produced it, and a nil *Store is a valid
// no-op recorder so callers can run without auditing at all.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Kind classifies an audit event.
type Kind string

const (
	KindPathSecurity   Kind = "path_security"
	KindLockConflict   Kind = "lock_conflict"
	KindLockCorrupt    Kind = "lock_corrupt"
	KindMemoryPressure Kind = "memory_pressure"
	KindSizeExceeded   Kind = "size_exceeded"
	KindChangeOpened   Kind = "change_opened"
	KindChangeArchived Kind = "change_archived"
	KindChangeLocked   Kind = "change_locked"
	KindChangeUnlocked Kind = "change_unlocked"
)

// Event is one recorded occurrence. Slug and Actor may be empty when the
// event is not tied to a specific change or caller.
type Event struct {
	ID     int64     `json:"id"`
	Time   time.Time `json:"time"`
	Kind   Kind      `json:"kind"`
	Slug   string    `json:"slug,omitempty"`
	Actor  string    `json:"actor,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Recorder is the write side of the audit trail. Implementations must
// tolerate being called concurrently.
type Recorder interface {
	Record(e Event)
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 200
)

// Config holds audit store configuration.
type Config struct {
	// DataDir is where audit.db lives.
	DataDir string
	// RetainLimit caps how many events are kept; older rows are pruned as
	// new events arrive. Zero means the default of 10000.
	RetainLimit int
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:     filepath.Join(home, ".task-mcp"),
		RetainLimit: 10000,
	}
}

// Store is the SQLite-backed audit trail.
type Store struct {
	db     *sql.DB
	retain int
}

// Open creates the data directory if needed, opens SQLite in WAL mode,
// and ensures the schema exists.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "audit.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("audit: pragma %q: %w", p, err)
		}
	}

	retain := cfg.RetainLimit
	if retain <= 0 {
		retain = DefaultConfig().RetainLimit
	}

	s := &Store{db: db, retain: retain}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			at     INTEGER NOT NULL,
			kind   TEXT NOT NULL,
			slug   TEXT NOT NULL DEFAULT '',
			actor  TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_events_at ON events(at DESC);
		CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends an event. A zero Time is stamped with the current time.
// Recording never returns an error; failures are logged and dropped so
// the audited operation is unaffected. Safe on a nil store.
func (s *Store) Record(e Event) {
	if s == nil {
		return
	}
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO events (at, kind, slug, actor, detail) VALUES (?, ?, ?, ?, ?)",
		at.UnixMilli(), string(e.Kind), e.Slug, e.Actor, e.Detail,
	)
	if err != nil {
		log.Printf("audit: dropping event %s: %v", e.Kind, err)
		return
	}
	if err := s.prune(); err != nil {
		log.Printf("audit: prune failed: %v", err)
	}
}

// prune keeps only the newest retain rows.
func (s *Store) prune() error {
	_, err := s.db.Exec(
		"DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY at DESC, id DESC LIMIT ?)",
		s.retain,
	)
	return err
}

// Recent returns the newest events, newest first. A non-positive limit
// uses the default of 20; limits above 200 are clamped. A nil store
// returns an empty slice.
func (s *Store) Recent(limit int) ([]Event, error) {
	if s == nil {
		return []Event{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}

	rows, err := s.db.Query(
		"SELECT id, at, kind, slug, actor, detail FROM events ORDER BY at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e    Event
			at   int64
			kind string
		)
		if err := rows.Scan(&e.ID, &at, &kind, &e.Slug, &e.Actor, &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Time = time.UnixMilli(at)
		e.Kind = Kind(kind)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}

// RecentByKind returns the newest events of one kind, newest first, with
// the same limit semantics as Recent.
func (s *Store) RecentByKind(kind Kind, limit int) ([]Event, error) {
	if s == nil {
		return []Event{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}

	rows, err := s.db.Query(
		"SELECT id, at, kind, slug, actor, detail FROM events WHERE kind = ? ORDER BY at DESC, id DESC LIMIT ?",
		string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e  Event
			at int64
			k  string
		)
		if err := rows.Scan(&e.ID, &at, &k, &e.Slug, &e.Actor, &e.Detail); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Time = time.UnixMilli(at)
		e.Kind = Kind(k)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}
