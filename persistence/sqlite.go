package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	mode       TEXT NOT NULL DEFAULT 'debate',
	started_at TEXT NOT NULL,
	ended_at   TEXT
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	signal     TEXT NOT NULL DEFAULT 'continue',
	timestamp  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session
	ON messages(session_id, timestamp, id);

CREATE TABLE IF NOT EXISTS planning_state (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id),
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Open opens (creating if needed) the sqlite database at path and applies
// the schema. The parent directory is created when missing.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite allows a single writer; funnel everything through one
	// connection so concurrent appenders queue instead of failing.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
