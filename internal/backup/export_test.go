// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/platebook/internal/archive"
)

func TestExportWritesArchiveAndRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEnv(t)
	e.seed(t, []string{"Noodle Bar", "Taqueria"}, map[string]string{
		"ramen.jpg":    "ramen",
		"tacos.jpg":    "tacos",
		"dumpling.png": "dumpling",
	})

	var progress progressLog
	res, err := e.svc.Export(ctx, progress.record)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	name := filepath.Base(res.Record.Path)
	if !strings.HasPrefix(name, "platebook-backup-") || !strings.HasSuffix(name, ".tar.zst") {
		t.Errorf("unexpected archive name %s", name)
	}
	info, err := os.Stat(res.Record.Path)
	if err != nil {
		t.Fatalf("archive missing: %v", err)
	}
	if info.Size() != res.Record.SizeBytes {
		t.Errorf("recorded size %d, file size %d", res.Record.SizeBytes, info.Size())
	}
	if res.Record.ProducedByVersion != "1.4.0" {
		t.Errorf("expected producer version 1.4.0, got %s", res.Record.ProducedByVersion)
	}

	f, err := os.Open(res.Record.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	meta, err := e.svc.Codec().Verify(ctx, f)
	if err != nil {
		t.Fatalf("exported archive does not verify: %v", err)
	}
	if len(meta.Images) != 3 || meta.SchemaVersion != 3 || meta.AppVersion != "1.4.0" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	stored, err := e.svc.Settings().LastExport(ctx)
	if err != nil {
		t.Fatalf("LastExport failed: %v", err)
	}
	if stored == nil || stored.Path != res.Record.Path || stored.SizeBytes != res.Record.SizeBytes {
		t.Errorf("stored record %+v does not match %+v", stored, res.Record)
	}

	progress.checkMonotonic(t)
	if last := progress.last(); last.State != StateDone || last.Percent != 100 {
		t.Errorf("expected final progress done/100, got %+v", last)
	}

	if left := dirEntries(t, e.cfg.StagingDir); len(left) != 0 {
		t.Errorf("staging not cleaned up: %v", left)
	}
}

func TestExportIsRepeatable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEnv(t)
	e.seed(t, []string{"Noodle Bar"}, map[string]string{"ramen.jpg": "ramen", "pho.jpg": "pho"})
	fixed := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	e.svc.now = func() time.Time { return fixed }

	first, err := e.svc.Export(ctx, nil)
	if err != nil {
		t.Fatalf("first Export failed: %v", err)
	}
	second, err := e.svc.Export(ctx, nil)
	if err != nil {
		t.Fatalf("second Export failed: %v", err)
	}

	if first.Record.Path == second.Record.Path {
		t.Fatal("second export overwrote the first")
	}
	if !strings.HasSuffix(second.Record.Path, "platebook-backup-20260314-123000-1.tar.zst") {
		t.Errorf("unexpected second archive name %s", second.Record.Path)
	}
	if len(first.Metadata.Images) != len(second.Metadata.Images) {
		t.Fatalf("image counts differ: %d vs %d", len(first.Metadata.Images), len(second.Metadata.Images))
	}
	for i := range first.Metadata.Images {
		if first.Metadata.Images[i] != second.Metadata.Images[i] {
			t.Errorf("image member %d differs: %+v vs %+v", i, first.Metadata.Images[i], second.Metadata.Images[i])
		}
	}

	exports, err := e.svc.ListExports()
	if err != nil {
		t.Fatal(err)
	}
	if len(exports) != 2 {
		t.Errorf("expected 2 exports, got %d", len(exports))
	}
}

func TestExportFailureLeavesNoArchive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failpoint string
		phase     Phase
	}{
		{"write", "export.write", PhaseWrite},
		{"settings", "export.settings", PhaseSettings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			e := newTestEnv(t)
			e.seed(t, []string{"Noodle Bar"}, map[string]string{"ramen.jpg": "ramen"})
			e.svc.failpoint = failAt(tt.failpoint)

			var progress progressLog
			_, err := e.svc.Export(ctx, progress.record)

			var exportErr *ExportError
			if !errors.As(err, &exportErr) {
				t.Fatalf("expected *ExportError, got %v", err)
			}
			if exportErr.Phase != tt.phase {
				t.Errorf("expected phase %s, got %s", tt.phase, exportErr.Phase)
			}
			if !errors.Is(err, errInjected) {
				t.Errorf("expected injected cause, got %v", err)
			}
			if left := dirEntries(t, e.cfg.ExportDir); len(left) != 0 {
				t.Errorf("export dir not empty after failure: %v", left)
			}
			if rec, _ := e.svc.Settings().LastExport(ctx); rec != nil {
				t.Errorf("export record written on failure: %+v", rec)
			}
			if last := progress.last(); last.State != StateFailed {
				t.Errorf("expected failed state, got %+v", last)
			}
		})
	}
}

func TestExportKeepsPreviousRecordOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newTestEnv(t)
	e.seed(t, []string{"Noodle Bar"}, nil)

	good, err := e.svc.Export(ctx, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	e.svc.failpoint = failAt("export.write")
	if _, err := e.svc.Export(ctx, nil); err == nil {
		t.Fatal("expected failure")
	}

	rec, err := e.svc.Settings().LastExport(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Path != good.Record.Path {
		t.Errorf("previous record lost: %+v", rec)
	}
	if got := dirEntries(t, e.cfg.ExportDir); len(got) != 1 {
		t.Errorf("expected only the first archive, got %v", got)
	}
}

func TestExportUnreadableImagesDir(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.seed(t, []string{"Noodle Bar"}, nil)
	if err := os.RemoveAll(e.cfg.ImagesDir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(e.cfg.ImagesDir, []byte("not a directory"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := e.svc.Export(context.Background(), nil)
	var exportErr *ExportError
	if !errors.As(err, &exportErr) || exportErr.Phase != PhaseCollect {
		t.Fatalf("expected collect failure, got %v", err)
	}
}

func TestExportEmptyStateAndNoCompression(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.cfg.Compression = archive.CompressionNone
	e.restart(t)

	res, err := e.svc.Export(context.Background(), nil)
	if err != nil {
		t.Fatalf("Export of empty state failed: %v", err)
	}
	if !strings.HasSuffix(res.Record.Path, ".tar") {
		t.Errorf("expected plain tar, got %s", res.Record.Path)
	}
	if len(res.Metadata.Images) != 0 {
		t.Errorf("expected no images, got %d", len(res.Metadata.Images))
	}
}

func TestExportCancelled(t *testing.T) {
	t.Parallel()

	e := newTestEnv(t)
	e.seed(t, []string{"Noodle Bar"}, map[string]string{"ramen.jpg": "ramen"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.svc.Export(ctx, nil)
	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("expected *ExportError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
	if left := dirEntries(t, e.cfg.ExportDir); len(left) != 0 {
		t.Errorf("export dir not empty: %v", left)
	}
}
