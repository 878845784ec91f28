// Package sqlitekv opens the pure-Go SQLite database backing the control
// plane's single persistent session record (spec §3, §6). It follows the
// functional-options Open(path, opts...) shape used elsewhere in the corpus
// for sqlite setup, rather than importing it, since the corpus's own
// implementation sits behind an unavailable private-module replace.
package sqlitekv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_state (
	key               TEXT PRIMARY KEY,
	active_tab_id     INTEGER,
	session_id        TEXT,
	is_active         INTEGER NOT NULL DEFAULT 0,
	last_update_unix  INTEGER NOT NULL
);
`

// wellKnownKey is the single row this package ever reads or writes, per
// spec §6 ("a single record at key sessionState").
const wellKnownKey = "sessionState"

type config struct {
	busyTimeout time.Duration
	mkdirAll    bool
}

// Option configures Open.
type Option func(*config)

// WithBusyTimeout sets SQLite's busy_timeout PRAGMA. Defaults to 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(c *config) { c.busyTimeout = d }
}

// WithMkdirAll creates the parent directory of the database file if it does
// not already exist.
func WithMkdirAll() Option {
	return func(c *config) { c.mkdirAll = true }
}

// Open opens (creating if necessary) the sqlite database at path, applies
// PRAGMAs for a single-writer WAL workload, and ensures the schema exists.
// An empty path opens a private in-memory database.
func Open(path string, opts ...Option) (*sql.DB, error) {
	cfg := config{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}

	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if cfg.mkdirAll {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("sqlitekv: failed to create directory for %q: %w", dsn, err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: failed to open %q: %w", dsn, err)
	}

	// A single connection avoids SQLITE_BUSY from this process's own
	// concurrent writers; the persistent record has exactly one writer at a
	// time by construction (the cleanup mutex serializes it upstream).
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitekv: failed to apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitekv: failed to apply schema: %w", err)
	}

	return db, nil
}

// OpenMemory opens an in-memory database for tests and registers cleanup.
func OpenMemory(t testing.TB) *sql.DB {
	t.Helper()
	db, err := Open("")
	if err != nil {
		t.Fatalf("sqlitekv: OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Record mirrors the persistent session record of spec §3.
type Record struct {
	ActiveTabID *int64
	SessionID   *string
	IsActive    bool
	LastUpdate  time.Time
}

// Store wraps a *sql.DB scoped to the single well-known session-state row.
type Store struct {
	db *sql.DB
}

// NewStore wraps db, which must already have had the schema applied by Open.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns the current record, or the zero Record if none has ever been
// written (an implementer's first boot).
func (s *Store) Load() (Record, error) {
	row := s.db.QueryRow(
		`SELECT active_tab_id, session_id, is_active, last_update_unix FROM session_state WHERE key = ?`,
		wellKnownKey,
	)

	var (
		tabID      sql.NullInt64
		sessionID  sql.NullString
		isActive   int64
		lastUpdate int64
	)
	if err := row.Scan(&tabID, &sessionID, &isActive, &lastUpdate); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("sqlitekv: failed to load session state: %w", err)
	}

	rec := Record{
		IsActive:   isActive != 0,
		LastUpdate: time.Unix(lastUpdate, 0).UTC(),
	}
	if tabID.Valid {
		v := tabID.Int64
		rec.ActiveTabID = &v
	}
	if sessionID.Valid {
		v := sessionID.String
		rec.SessionID = &v
	}
	return rec, nil
}

// Save upserts the single session-state row, stamping LastUpdate with the
// current time; it does not read the row first, so a caller changing one
// field does the read-modify-write itself (Load, then Save).
// Per spec §5 (Shared resources), this is not transactional across hosts —
// racing writers on different hosts are explicitly out of scope.
func (s *Store) Save(rec Record) error {
	rec.LastUpdate = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO session_state (key, active_tab_id, session_id, is_active, last_update_unix)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   active_tab_id = excluded.active_tab_id,
		   session_id = excluded.session_id,
		   is_active = excluded.is_active,
		   last_update_unix = excluded.last_update_unix`,
		wellKnownKey, rec.ActiveTabID, rec.SessionID, boolToInt(rec.IsActive), rec.LastUpdate.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlitekv: failed to save session state: %w", err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
