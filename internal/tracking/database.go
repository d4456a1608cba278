package tracking

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

// NewDatabase opens a SQLite database at the specified path and applies
// the stream tracking schema.
func NewDatabase(dbPath string) (*sql.DB, error) {
	// Ensure directory exists if not in-memory
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply pragmas first
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- Stream sessions, one row per invocation
CREATE TABLE IF NOT EXISTS stream_sessions (
    id         TEXT    PRIMARY KEY,
    started_at INTEGER NOT NULL,
    source     TEXT    NOT NULL,
    bit_depth  INTEGER NOT NULL,
    rate_hint  INTEGER NOT NULL
);

-- Track boundaries observed by the output loop
CREATE TABLE IF NOT EXISTS track_events (
    id             INTEGER PRIMARY KEY,
    session_id     TEXT    NOT NULL REFERENCES stream_sessions(id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL CHECK (seq > 0),
    timestamp      INTEGER NOT NULL,
    sample_rate    INTEGER NOT NULL,
    bit_depth      INTEGER NOT NULL,
    dsd_format     INTEGER NOT NULL CHECK (dsd_format BETWEEN 0 AND 3),
    header_emitted INTEGER NOT NULL CHECK (header_emitted IN (0,1)),
    UNIQUE(session_id, seq)
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_track_events_timestamp ON track_events(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_track_events_session ON track_events(session_id);
CREATE INDEX IF NOT EXISTS idx_track_events_format ON track_events(sample_rate, bit_depth, dsd_format);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// DefaultDatabasePath returns the XDG cache location of the tracking
// database.
func DefaultDatabasePath() (string, error) {
	path, err := xdg.CacheFile(filepath.Join("wavepipe", "tracking.db"))
	if err != nil {
		return "", fmt.Errorf("failed to resolve tracking database path: %w", err)
	}
	return path, nil
}
