// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Package settings is a small key/value store kept in the live SQLite
// database. Each key holds one JSON document; writes are last-write-wins.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Well-known keys.
const (
	KeyLastExport       = "backup.last_export"
	KeyLastSafetyBackup = "backup.last_safety_backup"
)

const schema = `CREATE TABLE IF NOT EXISTS app_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Conner yields the current connection to the live database. It is
// satisfied by *database.DB, whose connection changes across a reopen.
type Conner interface {
	Conn() (*sql.DB, error)
}

// ExportRecord describes the last successful export.
type ExportRecord struct {
	Date              time.Time `json:"date"`
	Path              string    `json:"path"`
	SizeBytes         int64     `json:"sizeBytes"`
	ProducedByVersion string    `json:"producedByVersion"`
}

// SafetyBackupRecord points at the pre-import copy of live state.
type SafetyBackupRecord struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
}

// Store reads and writes settings rows.
type Store struct {
	db  Conner
	now func() time.Time
}

// New returns a Store over db. Call EnsureSchema before first use.
func New(db Conner) *Store {
	return &Store{db: db, now: time.Now}
}

// EnsureSchema creates the settings table if it does not exist. It must be
// called again after the database file has been replaced, since an
// imported database may predate the table.
func (s *Store) EnsureSchema(ctx context.Context) error {
	conn, err := s.db.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating app_settings: %w", err)
	}
	return nil
}

// Get returns the raw value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.db.Conn()
	if err != nil {
		return "", false, err
	}

	var value string
	err = conn.QueryRowContext(ctx, "SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

// Upsert stores value under key, replacing any previous value.
func (s *Store) Upsert(ctx context.Context, key, value string) error {
	conn, err := s.db.Conn()
	if err != nil {
		return err
	}

	_, err = conn.ExecContext(ctx, `INSERT INTO app_settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	conn, err := s.db.Conn()
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM app_settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting setting %s: %w", key, err)
	}
	return nil
}

func getJSON[T any](ctx context.Context, s *Store, key string) (*T, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decoding setting %s: %w", key, err)
	}
	return &v, nil
}

func putJSON(ctx context.Context, s *Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding setting %s: %w", key, err)
	}
	return s.Upsert(ctx, key, string(data))
}

// LastExport returns the last export record, or nil if none was recorded.
func (s *Store) LastExport(ctx context.Context) (*ExportRecord, error) {
	return getJSON[ExportRecord](ctx, s, KeyLastExport)
}

// SaveExport records a successful export.
func (s *Store) SaveExport(ctx context.Context, rec ExportRecord) error {
	return putJSON(ctx, s, KeyLastExport, rec)
}

// ClearExport forgets the last export record.
func (s *Store) ClearExport(ctx context.Context) error {
	return s.Delete(ctx, KeyLastExport)
}

// LastSafetyBackup returns the last safety backup record, or nil.
func (s *Store) LastSafetyBackup(ctx context.Context) (*SafetyBackupRecord, error) {
	return getJSON[SafetyBackupRecord](ctx, s, KeyLastSafetyBackup)
}

// SaveSafetyBackup records the safety backup taken before an import.
func (s *Store) SaveSafetyBackup(ctx context.Context, rec SafetyBackupRecord) error {
	return putJSON(ctx, s, KeyLastSafetyBackup, rec)
}

// ClearSafetyBackup forgets the safety backup record.
func (s *Store) ClearSafetyBackup(ctx context.Context) error {
	return s.Delete(ctx, KeyLastSafetyBackup)
}
