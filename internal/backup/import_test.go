// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/platebook/internal/archive"
)

var (
	sourceRestaurants = []string{"Ramen Ya", "Pho 99", "Dumpling House"}
	sourceImages      = map[string]string{"ramen.jpg": "ramen", "pho.jpg": "pho", "dumpling.jpg": "dumpling"}

	deviceRestaurants = []string{"Noodle Bar", "Taqueria"}
	deviceImages      = map[string]string{"tacos.jpg": "tacos"}
)

// exportFrom builds a source device and exports it.
func exportFrom(t *testing.T, compression archive.Compression, restaurants []string, images map[string]string) string {
	t.Helper()

	src := newTestEnv(t)
	src.cfg.Compression = compression
	src.restart(t)
	src.seed(t, restaurants, images)

	res, err := src.svc.Export(context.Background(), nil)
	if err != nil {
		t.Fatalf("source Export failed: %v", err)
	}
	return res.Record.Path
}

// newDevice is the import target with its own content.
func newDevice(t *testing.T) *testEnv {
	t.Helper()
	e := newTestEnv(t)
	e.seed(t, deviceRestaurants, deviceImages)
	return e
}

func (e *testEnv) assertDeviceUntouched(t *testing.T) {
	t.Helper()
	if got := e.restaurants(t); !equalStrings(got, deviceRestaurants) {
		t.Errorf("live restaurants changed: %v", got)
	}
	if got := e.images(t); !equalImages(got, deviceImages) {
		t.Errorf("live images changed: %v", got)
	}
}

func (e *testEnv) assertImported(t *testing.T) {
	t.Helper()
	if got := e.restaurants(t); !equalStrings(got, sourceRestaurants) {
		t.Errorf("expected imported restaurants, got %v", got)
	}
	if got := e.images(t); !equalImages(got, sourceImages) {
		t.Errorf("expected imported images, got %v", got)
	}
}

func TestImportReplacesLiveState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)

	var progress progressLog
	res, err := e.svc.Import(ctx, archivePath, progress.record)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if !res.RestartRequired {
		t.Error("expected RestartRequired")
	}
	e.assertImported(t)

	rec, err := e.svc.Settings().LastSafetyBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Location != res.SafetyBackup.Location {
		t.Errorf("safety backup record %+v, expected %+v", rec, res.SafetyBackup)
	}

	// The source's export record describes another device.
	if exp, _ := e.svc.Settings().LastExport(ctx); exp != nil {
		t.Errorf("foreign export record carried in: %+v", exp)
	}

	progress.checkMonotonic(t)
	if last := progress.last(); last.State != StateDone || last.Percent != 100 {
		t.Errorf("expected done/100, got %+v", last)
	}
	if left := dirEntries(t, e.cfg.StagingDir); len(left) != 0 {
		t.Errorf("staging not cleaned up: %v", left)
	}
	if _, err := os.Stat(e.svc.journalPath()); !os.IsNotExist(err) {
		t.Errorf("journal left behind: %v", err)
	}
}

func TestImportCarriesDeviceExportRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath := exportFrom(t, archive.CompressionGzip, sourceRestaurants, sourceImages)
	e := newDevice(t)

	own, err := e.svc.Export(ctx, nil)
	if err != nil {
		t.Fatalf("device Export failed: %v", err)
	}
	if _, err := e.svc.Import(ctx, archivePath, nil); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	exp, err := e.svc.Settings().LastExport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if exp == nil || exp.Path != own.Record.Path {
		t.Errorf("expected device export record %s, got %+v", own.Record.Path, exp)
	}
}

// Empty images directory and a small database survive a round trip into
// a fresh device.
func TestScenarioEmptyImagesRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := newTestEnv(t)
	src.seed(t, []string{strings.Repeat("x", 900)}, nil)
	res, err := src.svc.Export(ctx, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	fresh := newTestEnv(t)
	if _, err := fresh.svc.Import(ctx, res.Record.Path, nil); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if got := fresh.restaurants(t); len(got) != 1 || got[0] != strings.Repeat("x", 900) {
		t.Errorf("database content not restored: %v", got)
	}
	if got := fresh.images(t); len(got) != 0 {
		t.Errorf("expected empty images directory, got %v", got)
	}
	if _, err := os.Stat(fresh.cfg.ImagesDir); err != nil {
		t.Errorf("images directory should exist: %v", err)
	}
}

// A single flipped byte in the database member fails the import and
// leaves the device as it was.
func TestScenarioCorruptArchiveLeavesLiveState(t *testing.T) {
	t.Parallel()

	archivePath := exportFrom(t, archive.CompressionNone, sourceRestaurants, sourceImages)
	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	idx := bytes.Index(data, []byte("SQLite format 3\x00"))
	if idx < 0 {
		t.Fatal("database member not found in archive")
	}
	data[idx+200] ^= 0xff
	corrupted := filepath.Join(t.TempDir(), "corrupted.tar")
	if err := os.WriteFile(corrupted, data, 0o600); err != nil {
		t.Fatal(err)
	}

	e := newDevice(t)
	var progress progressLog
	_, err = e.svc.Import(context.Background(), corrupted, progress.record)

	var importErr *ImportError
	if !errors.As(err, &importErr) {
		t.Fatalf("expected *ImportError, got %v", err)
	}
	if importErr.Phase != PhaseInvalidArchive || importErr.RolledBack {
		t.Errorf("unexpected import error %+v", importErr)
	}
	var corrupt *archive.CorruptArchiveError
	if !errors.As(err, &corrupt) {
		t.Errorf("expected *CorruptArchiveError in chain, got %v", err)
	}
	if !importErr.Retryable() || !importErr.LiveStateConsistent() {
		t.Error("invalid archive should leave consistent, retryable state")
	}

	e.assertDeviceUntouched(t)
	if n := e.safetyBackups(t); n != 0 {
		t.Errorf("safety backup of failed attempt kept: %d", n)
	}
	if left := dirEntries(t, e.cfg.StagingDir); len(left) != 0 {
		t.Errorf("staging not cleaned up: %v", left)
	}
	if last := progress.last(); last.State != StateFailed {
		t.Errorf("expected failed state, got %+v", last)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.tar")
	if err := os.WriteFile(garbage, []byte("this is not an archive at all"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "missing.tar.zst")},
		{"directory", dir},
		{"garbage", garbage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newDevice(t)
			_, err := e.svc.Import(context.Background(), tt.path, nil)
			var importErr *ImportError
			if !errors.As(err, &importErr) || importErr.Phase != PhaseInvalidArchive {
				t.Fatalf("expected invalidArchive, got %v", err)
			}
			e.assertDeviceUntouched(t)
		})
	}
}

func TestImportSafetyBackupFailure(t *testing.T) {
	t.Parallel()

	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)
	e.svc.failpoint = failAt("import.safetyBackup")

	_, err := e.svc.Import(context.Background(), archivePath, nil)
	var importErr *ImportError
	if !errors.As(err, &importErr) || importErr.Phase != PhaseSafetyBackupFailed {
		t.Fatalf("expected safetyBackupFailed, got %v", err)
	}
	e.assertDeviceUntouched(t)
}

func TestImportCancelledBeforeReplacing(t *testing.T) {
	t.Parallel()

	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.svc.failpoint = func(name string) error {
		if name == "import.beforeReplace" {
			cancel()
		}
		return nil
	}

	_, err := e.svc.Import(ctx, archivePath, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	e.assertDeviceUntouched(t)
	if n := e.safetyBackups(t); n != 0 {
		t.Errorf("safety backup of cancelled import kept: %d", n)
	}
}

func TestImportRollsBackOnReplaceFailure(t *testing.T) {
	t.Parallel()

	for _, point := range []string{"import.replace", "import.replaceImages", "import.persist"} {
		t.Run(point, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
			e := newDevice(t)
			e.svc.failpoint = failAt(point)

			var progress progressLog
			_, err := e.svc.Import(ctx, archivePath, progress.record)

			var importErr *ImportError
			if !errors.As(err, &importErr) {
				t.Fatalf("expected *ImportError, got %v", err)
			}
			if importErr.Phase != PhaseReplaceFailed || !importErr.RolledBack {
				t.Errorf("expected rolled-back replaceFailed, got %+v", importErr)
			}
			if !importErr.LiveStateConsistent() {
				t.Error("rolled-back import should report consistent state")
			}
			if !errors.Is(err, errInjected) {
				t.Errorf("expected injected cause, got %v", err)
			}

			e.assertDeviceUntouched(t)
			if last := progress.last(); last.State != StateRolledBack {
				t.Errorf("expected rolled_back state, got %+v", last)
			}
			if _, err := os.Stat(e.svc.journalPath()); !os.IsNotExist(err) {
				t.Errorf("journal left behind after rollback: %v", err)
			}

			// The engine is usable again.
			if _, err := e.svc.Export(ctx, nil); err != nil {
				t.Errorf("Export after rollback failed: %v", err)
			}
		})
	}
}

func TestImportRollbackFailureNeedsManualRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)
	e.svc.failpoint = failAt("import.replace", "rollback")

	_, err := e.svc.Import(ctx, archivePath, nil)
	var importErr *ImportError
	if !errors.As(err, &importErr) || importErr.Phase != PhaseRollbackFailed {
		t.Fatalf("expected rollbackFailed, got %v", err)
	}
	if importErr.LiveStateConsistent() || importErr.Retryable() {
		t.Error("failed rollback must not be reported as consistent")
	}
	if importErr.SafetyLocation == "" {
		t.Fatal("expected safety location to be disclosed")
	}
	if _, err := os.Stat(importErr.SafetyLocation); err != nil {
		t.Errorf("safety backup must be kept: %v", err)
	}

	// The next launch finishes the rollback.
	e.restart(t)
	res, err := e.svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !res.RolledBack {
		t.Error("expected Recover to roll back")
	}
	e.assertDeviceUntouched(t)
}

// A crash after the files were replaced but before settings were written
// still leaves the safety backup reachable on the next launch.
func TestScenarioCrashBeforeSettingsPersisted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)
	e.svc.failpoint = func(name string) error {
		if name == "import.persist" {
			panic("simulated crash")
		}
		return nil
	}

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected simulated crash")
			}
		}()
		_, _ = e.svc.Import(ctx, archivePath, nil)
	}()

	e.restart(t)
	res, err := e.svc.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if !res.RecordRestored || res.RolledBack {
		t.Errorf("unexpected recovery result %+v", res)
	}
	e.assertImported(t)

	rec, err := e.svc.Settings().LastSafetyBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil {
		t.Fatal("safety backup record missing after recovery")
	}

	restored, err := e.svc.RestorePrevious(ctx, nil)
	if err != nil {
		t.Fatalf("RestorePrevious failed: %v", err)
	}
	if !restored.RestartRequired || restored.SafetyBackup.Location != rec.Location {
		t.Errorf("unexpected restore result %+v", restored)
	}
	e.assertDeviceUntouched(t)
}

func TestImportBusyWhileRunning(t *testing.T) {
	t.Parallel()

	archivePath := exportFrom(t, archive.CompressionZstd, sourceRestaurants, sourceImages)
	e := newDevice(t)

	reached := make(chan struct{})
	resume := make(chan struct{})
	e.svc.failpoint = func(name string) error {
		if name == "import.beforeReplace" {
			close(reached)
			<-resume
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.svc.Import(context.Background(), archivePath, nil)
		done <- err
	}()

	<-reached
	if _, err := e.svc.Export(context.Background(), nil); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy during import, got %v", err)
	}
	if _, err := e.svc.Import(context.Background(), archivePath, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy for second import, got %v", err)
	}
	close(resume)

	if err := <-done; err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	e.assertImported(t)
}
