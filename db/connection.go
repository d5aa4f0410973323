// Package db persists the worker's run journal in SQLite: one row per
// finished run, written asynchronously so the run loop never blocks on
// disk.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// SQLite driver (pure Go, no CGO required)
	_ "modernc.org/sqlite"
)

// busyTimeoutMS is how long SQLite waits for locks before failing.
const busyTimeoutMS = 5000

// Open opens the journal database at path with WAL mode and foreign keys
// enabled. SQLite handles concurrency best with a single writer, so the
// pool is capped at one connection.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("db: database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("db: create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("db: open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMS),
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("db: apply %q: %w", pragma, err)
		}
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	return conn, nil
}
