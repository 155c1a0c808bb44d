// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Package database owns the connection to the live on-device SQLite file.
//
// The rest of Platebook reads and writes through DB.Conn. The backup engine
// additionally needs to checkpoint the WAL, take a consistent snapshot while
// readers continue, and close and reopen the handle around a replacement of
// the underlying file.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/tomtom215/platebook/internal/logging"
)

// ErrClosed is returned by Conn while the handle is closed.
var ErrClosed = errors.New("database: closed")

// SidecarSuffixes are the files SQLite keeps next to a WAL-mode database.
var SidecarSuffixes = []string{"-wal", "-shm", "-journal"}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// DB is a reopenable handle to the live database file.
type DB struct {
	path string

	mu   sync.RWMutex
	conn *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(ctx context.Context, path string) (*DB, error) {
	db := &DB{path: path}
	if err := db.Reopen(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// openConn opens a single-connection pool with Platebook's pragmas applied.
func openConn(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite is single-writer; one connection keeps lock behaviour predictable.
	conn.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}
	return conn, nil
}

// Path returns the live database file path.
func (db *DB) Path() string {
	return db.path
}

// Conn returns the current connection pool, or ErrClosed.
func (db *DB) Conn() (*sql.DB, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.conn == nil {
		return nil, ErrClosed
	}
	return db.conn, nil
}

// Checkpoint flushes the WAL into the main database file and truncates it,
// so that the file alone is a complete copy of the database.
func (db *DB) Checkpoint(ctx context.Context) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Snapshot writes a consistent copy of the live database to dest using
// VACUUM INTO. dest must not exist.
func (db *DB) Snapshot(ctx context.Context, dest string) error {
	conn, err := db.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("snapshot to %s: %w", dest, err)
	}
	return nil
}

// SchemaVersion returns PRAGMA user_version of the live database.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	conn, err := db.Conn()
	if err != nil {
		return 0, err
	}
	return schemaVersion(ctx, conn)
}

// Close closes the handle. Closing a closed handle is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Reopen closes the current handle, if any, and opens the file at Path
// again. Used after the file has been replaced underneath the process.
func (db *DB) Reopen(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			logging.Warn().Err(err).Str("path", db.path).Msg("Closing stale database handle failed")
		}
		db.conn = nil
	}

	conn, err := openConn(ctx, db.path)
	if err != nil {
		return err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	db.conn = conn
	return nil
}

func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var v int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return v, nil
}
