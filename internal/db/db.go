// Package db opens the polaris SQLite database and applies migrations.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the DB at path, creates dir if needed, runs migrations.
// Uses WAL with a busy timeout so concurrent request handlers queue on the
// per-object write transaction instead of failing immediately.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("ping failed: %v, close failed: %w", err, closeErr)
		}
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("migrate failed: %v, close failed: %w", err, closeErr)
		}
		return nil, err
	}
	return conn, nil
}

// Migrate applies the server-side schema. Safe to run repeatedly.
func Migrate(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// OpenClient opens a daemon-side database: local tree, per-store cursors,
// pending change queue. Kept on a separate schema so a syncd database
// carries no server tables and vice versa.
func OpenClient(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("ping failed: %v, close failed: %w", err, closeErr)
		}
		return nil, err
	}
	if err := MigrateClient(conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			return nil, fmt.Errorf("migrate failed: %v, close failed: %w", err, closeErr)
		}
		return nil, err
	}
	return conn, nil
}

// MigrateClient applies the daemon-side schema. Safe to run repeatedly.
func MigrateClient(conn *sql.DB) error {
	if _, err := conn.Exec(clientSchema); err != nil {
		return fmt.Errorf("migrate client schema: %w", err)
	}
	return nil
}

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS stores (
  sid TEXT PRIMARY KEY,
  name TEXT,
  created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS objects (
  sid TEXT NOT NULL,
  oid TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  object_type TEXT,
  tombstoned INTEGER NOT NULL DEFAULT 0,
  parent_oid TEXT,
  name TEXT,
  PRIMARY KEY (sid, oid)
);
CREATE INDEX IF NOT EXISTS idx_objects_parent_name ON objects(sid, parent_oid, name);

CREATE TABLE IF NOT EXISTS transforms (
  sid TEXT NOT NULL,
  change_id INTEGER NOT NULL,
  oid TEXT NOT NULL,
  transform_type TEXT NOT NULL,
  version INTEGER NOT NULL,
  child_oid TEXT,
  child_object_type TEXT,
  child_name TEXT,
  content_hash TEXT,
  content_size INTEGER,
  content_mtime INTEGER,
  originator TEXT NOT NULL,
  applied_at REAL NOT NULL,
  PRIMARY KEY (sid, change_id),
  UNIQUE (sid, oid, version)
);
CREATE INDEX IF NOT EXISTS idx_transforms_oid ON transforms(sid, oid, version);

CREATE TABLE IF NOT EXISTS locations (
  oid TEXT NOT NULL,
  version INTEGER NOT NULL,
  location TEXT NOT NULL,
  marked_at REAL NOT NULL,
  PRIMARY KEY (oid, version, location)
);
`

const clientSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS local_objects (
  sid TEXT NOT NULL,
  oid TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  object_type TEXT,
  tombstoned INTEGER NOT NULL DEFAULT 0,
  parent_oid TEXT,
  name TEXT,
  content_hash TEXT,
  content_size INTEGER,
  content_mtime INTEGER,
  PRIMARY KEY (sid, oid)
);
CREATE INDEX IF NOT EXISTS idx_local_objects_parent ON local_objects(sid, parent_oid, name);

CREATE TABLE IF NOT EXISTS sync_cursors (
  sid TEXT PRIMARY KEY,
  change_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pending_changes (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  sid TEXT NOT NULL,
  oid TEXT NOT NULL,
  transform_type TEXT NOT NULL,
  child_oid TEXT,
  child_object_type TEXT,
  child_name TEXT,
  content_hash TEXT,
  content_size INTEGER,
  content_mtime INTEGER,
  queued_at REAL NOT NULL
);
`
