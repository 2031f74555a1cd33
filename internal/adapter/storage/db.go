// Package storage persists traces and handoff events in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"switchboard/internal/domain"
)

// DB is a SQLite handle implementing the trace, handoff and event stores.
type DB struct {
	db *sql.DB
}

var (
	_ domain.TraceStore   = (*DB)(nil)
	_ domain.HandoffStore = (*DB)(nil)
	_ domain.EventStore   = (*DB)(nil)
)

// migrations are applied in order; the applied count lives in PRAGMA user_version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS traces (
		trace_id   TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id    TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at   TEXT,
		events     TEXT NOT NULL DEFAULT '[]',
		summary    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_traces_session ON traces(session_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_traces_user ON traces(user_id, started_at);`,

	`CREATE TABLE IF NOT EXISTS handoffs (
		id               TEXT PRIMARY KEY,
		session_id       TEXT NOT NULL,
		from_agent       TEXT NOT NULL,
		to_agent         TEXT NOT NULL,
		reason           TEXT NOT NULL,
		history          TEXT NOT NULL DEFAULT '[]',
		harness_trace_id TEXT NOT NULL DEFAULT '',
		user_intent      TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_handoffs_session ON handoffs(session_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type       TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		payload    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, created_at);`,
}

// Open opens (or creates) the database at path and runs pending migrations.
// The parent directory is created when missing.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, storageErr("Open", fmt.Errorf("create data dir: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storageErr("Open", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, storageErr("Open", fmt.Errorf("set WAL mode: %w", err))
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, storageErr("Open", fmt.Errorf("set busy timeout: %w", err))
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, storageErr("Open", fmt.Errorf("migrate: %w", err))
	}
	return &DB{db: db}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func storageErr(op string, err error) error {
	return domain.NewSubSystemError("storage", "storage."+op, fmt.Errorf("%w: %w", domain.ErrStorage, err), "")
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

type scanner interface {
	Scan(dest ...any) error
}
