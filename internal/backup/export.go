// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/metrics"
	"github.com/tomtom215/platebook/internal/settings"
)

// Export progress checkpoints.
const (
	exportCollected    = 10
	exportArchiveSpan  = 70
	exportPersisted    = 90
	exportSettingsDone = 95
)

// Export writes the whole of live state to a new archive in the export
// directory and records it as the last export. On failure no archive is
// left behind and the previous export record is kept.
func (s *Service) Export(ctx context.Context, progress ProgressFunc) (_ *ExportResult, err error) {
	release, err := s.begin(OpExport)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.ContextWithOperation(ctx, string(OpExport))
	log := logging.Ctx(ctx)
	start := s.now()
	rep := s.newReporter(OpExport, progress)

	defer func() {
		metrics.RecordBackupOperation(string(OpExport), resultLabel(err), time.Since(start))
		if err != nil {
			rep.finish(StateFailed)
			log.Warn().Err(err).Msg("Export failed")
		}
	}()

	rep.report(StateCollecting, 0)

	work, err := os.MkdirTemp(s.cfg.StagingDir, "export-*")
	if err != nil {
		return nil, &ExportError{Phase: PhaseCollect, Err: err}
	}
	defer func() {
		if rmErr := fsstore.RemoveAll(work); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", work).Msg("Removing export scratch directory failed")
		}
	}()

	in, err := s.collect(ctx, work)
	if err != nil {
		return nil, &ExportError{Phase: PhaseCollect, Err: err}
	}
	rep.report(StateCollecting, exportCollected)

	if err := ctx.Err(); err != nil {
		return nil, &ExportError{Phase: PhaseCollect, Err: err}
	}

	rep.report(StateArchiving, exportCollected)
	tmp, meta, err := s.writeArchive(ctx, in, func(done, total int) {
		rep.report(StateArchiving, phaseProgress(exportCollected, exportArchiveSpan, done-1, total))
	})
	if err != nil {
		var encErr *archive.EncodingError
		if errors.As(err, &encErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &ExportError{Phase: PhaseArchive, Err: err}
		}
		return nil, &ExportError{Phase: PhaseWrite, Err: err}
	}

	rep.report(StatePersisting, phaseProgress(exportCollected, exportArchiveSpan, 0, 0))
	final, size, err := s.publishArchive(tmp, in.ExportedAt)
	if err != nil {
		_ = fsstore.Remove(tmp)
		return nil, &ExportError{Phase: PhaseWrite, Err: err}
	}
	rep.report(StatePersisting, exportPersisted)

	rec := settings.ExportRecord{
		Date:              in.ExportedAt,
		Path:              final,
		SizeBytes:         size,
		ProducedByVersion: s.cfg.AppVersion,
	}
	err = s.inject("export.settings")
	if err == nil {
		err = s.WithLiveState(func() error { return s.store.SaveExport(ctx, rec) })
	}
	if err != nil {
		if rmErr := fsstore.Remove(final); rmErr != nil {
			log.Warn().Err(rmErr).Str("path", final).Msg("Removing unrecorded export archive failed")
		}
		return nil, &ExportError{Phase: PhaseSettings, Err: err}
	}
	rep.report(StatePersisting, exportSettingsDone)

	metrics.BackupLastArchiveBytes.Set(float64(size))
	rep.report(StateDone, 100)

	log.Info().
		Str("path", final).
		Int64("bytes", size).
		Int("images", len(meta.Images)).
		Dur("duration", time.Since(start)).
		Msg("Export complete")

	return &ExportResult{Record: rec, Metadata: *meta, Duration: time.Since(start)}, nil
}

// collect snapshots the database into work and enumerates the images.
func (s *Service) collect(ctx context.Context, work string) (archive.Input, error) {
	var in archive.Input
	err := s.WithLiveState(func() error {
		snapshot := filepath.Join(work, archive.DatabaseMember)
		if err := s.db.Snapshot(ctx, snapshot); err != nil {
			return err
		}
		version, err := s.db.SchemaVersion(ctx)
		if err != nil {
			return err
		}
		dbSource, err := archive.FileSource(archive.DatabaseMember, snapshot)
		if err != nil {
			return err
		}

		files, err := fsstore.ListFiles(s.cfg.ImagesDir)
		if err != nil {
			return err
		}
		images := make([]archive.Source, 0, len(files))
		for _, f := range files {
			images = append(images, fileSource(f))
		}

		in = archive.Input{
			Database:      dbSource,
			Images:        images,
			AppVersion:    s.cfg.AppVersion,
			SchemaVersion: version,
			ExportedAt:    s.now().UTC().Truncate(time.Second),
		}
		return nil
	})
	return in, err
}

func fileSource(f fsstore.FileInfo) archive.Source {
	p := f.Path
	return archive.Source{
		Name: f.Name,
		Size: f.Size,
		Open: func() (io.ReadCloser, error) {
			return os.Open(p) //nolint:gosec // listed from the images directory
		},
	}
}

// writeArchive encodes in into a hidden temp file in the export directory
// and returns its path once it is fully on disk.
func (s *Service) writeArchive(ctx context.Context, in archive.Input, onImage func(done, total int)) (_ string, _ *archive.Metadata, err error) {
	f, err := os.CreateTemp(s.cfg.ExportDir, ".platebook-export-*.tmp")
	if err != nil {
		return "", nil, fmt.Errorf("creating archive: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = fsstore.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 256<<10)
	meta, err := s.codec.Encode(ctx, bw, in, onImage)
	if err != nil {
		return "", nil, err
	}
	if err := bw.Flush(); err != nil {
		return "", nil, fmt.Errorf("writing archive: %w", err)
	}
	if err := s.inject("export.write"); err != nil {
		return "", nil, err
	}
	if err := f.Sync(); err != nil {
		return "", nil, fmt.Errorf("syncing archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", nil, fmt.Errorf("closing archive: %w", err)
	}
	return tmp, meta, nil
}

// publishArchive renames tmp to its final name and returns path and size.
func (s *Service) publishArchive(tmp string, at time.Time) (string, int64, error) {
	base := exportPrefix + at.UTC().Format("20060102-150405")
	ext := s.codec.Compression().Extension()

	final := filepath.Join(s.cfg.ExportDir, base+ext)
	for i := 1; fsstore.Exists(final); i++ {
		final = filepath.Join(s.cfg.ExportDir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", 0, fmt.Errorf("publishing archive: %w", err)
	}
	info, err := os.Stat(final)
	if err != nil {
		_ = fsstore.Remove(final)
		return "", 0, fmt.Errorf("stat archive: %w", err)
	}
	return final, info.Size(), nil
}
