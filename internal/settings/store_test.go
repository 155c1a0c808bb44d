// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package settings

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/platebook/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "platebook.db"))
	if err != nil {
		t.Fatalf("database.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return s
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected missing key to report ok=false")
	}
}

func TestUpsertLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	for _, v := range []string{"one", "two", "three"} {
		if err := s.Upsert(ctx, "theme", v); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", v, err)
		}
	}

	got, ok, err := s.Get(ctx, "theme")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got != "three" {
		t.Errorf("expected 'three', got %q", got)
	}

	conn, _ := s.db.Conn()
	var rows int
	if err := conn.QueryRow("SELECT COUNT(*) FROM app_settings WHERE key = 'theme'").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != 1 {
		t.Errorf("expected a single row per key, got %d", rows)
	}
}

func TestExportRecordRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.LastExport(ctx)
	if err != nil {
		t.Fatalf("LastExport failed: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected no export record initially, got %+v", rec)
	}

	want := ExportRecord{
		Date:              time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Path:              "/exports/platebook-backup-20260301-120000.tar.zst",
		SizeBytes:         123456,
		ProducedByVersion: "1.4.0",
	}
	if err := s.SaveExport(ctx, want); err != nil {
		t.Fatalf("SaveExport failed: %v", err)
	}

	got, err := s.LastExport(ctx)
	if err != nil {
		t.Fatalf("LastExport failed: %v", err)
	}
	if got == nil || got.Path != want.Path || got.SizeBytes != want.SizeBytes || !got.Date.Equal(want.Date) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := s.ClearExport(ctx); err != nil {
		t.Fatalf("ClearExport failed: %v", err)
	}
	if got, _ := s.LastExport(ctx); got != nil {
		t.Errorf("expected export record to be cleared, got %+v", got)
	}
}

func TestSafetyBackupRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	want := SafetyBackupRecord{ID: "abc", Date: time.Now().UTC(), Location: "/safety/safety-1"}
	if err := s.SaveSafetyBackup(ctx, want); err != nil {
		t.Fatalf("SaveSafetyBackup failed: %v", err)
	}
	got, err := s.LastSafetyBackup(ctx)
	if err != nil {
		t.Fatalf("LastSafetyBackup failed: %v", err)
	}
	if got == nil || got.Location != want.Location || got.ID != want.ID {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestStoreAfterClose(t *testing.T) {
	t.Parallel()

	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "platebook.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := New(db)
	_ = db.Close()

	if err := s.Upsert(context.Background(), "k", "v"); err == nil {
		t.Error("expected error writing through a closed database")
	}
}
