// Package sqlite implements the container catalogue on an embedded SQLite file.
//
// The catalogue is best-effort: callers log and drop its errors. It is never
// consulted for container liveness, only for the audit trail it keeps.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"recommerce/internal/check"
)

// TimeLayout is the layout of every timestamp the catalogue writes. It is
// fixed-width so lexical and chronological order agree.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

const containerSchema = `
CREATE TABLE IF NOT EXISTS container (
	container_id TEXT PRIMARY KEY,
	config TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL DEFAULT '',
	started_by TEXT NOT NULL DEFAULT '',
	group_id TEXT NOT NULL DEFAULT '',
	group_size INTEGER NOT NULL DEFAULT 0,
	stopped_at TEXT NOT NULL DEFAULT '',
	force_stop TEXT NOT NULL DEFAULT '',
	exited_at TEXT NOT NULL DEFAULT '',
	exit_status TEXT NOT NULL DEFAULT '',
	health TEXT NOT NULL DEFAULT '',
	paused TEXT NOT NULL DEFAULT '',
	resumed TEXT NOT NULL DEFAULT '',
	tensorboard TEXT NOT NULL DEFAULT '',
	logs TEXT NOT NULL DEFAULT '',
	data TEXT NOT NULL DEFAULT ''
)`

const systemSchema = `
CREATE TABLE IF NOT EXISTS system_information (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sampled_at TEXT NOT NULL,
	cpu TEXT NOT NULL,
	ram TEXT NOT NULL,
	io TEXT NOT NULL
)`

// Store is the catalogue. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// mu serializes writers so timestamps are taken and applied in order.
	mu        sync.Mutex
	lastStamp time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for catalogue timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the catalogue at path.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalogue directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalogue db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set catalogue journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set catalogue busy timeout: %w", err)
	}
	if _, err := db.Exec(containerSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize container schema: %w", err)
	}
	if _, err := db.Exec(systemSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize system_information schema: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// stamp returns the next write timestamp. Callers hold mu. The result never
// goes backwards even if the wall clock does.
func (s *Store) stamp() time.Time {
	now := s.now().UTC()
	if now.Before(s.lastStamp) {
		now = s.lastStamp
	}
	check.Assertf(!now.Before(s.lastStamp), "catalogue stamp %v before %v", now, s.lastStamp)
	s.lastStamp = now
	return now
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
