// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/database"
	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/metrics"
	"github.com/tomtom215/platebook/internal/safety"
	"github.com/tomtom215/platebook/internal/settings"
)

// Import progress checkpoints.
const (
	importSafetyDone   = 15
	importExtractStart = 20
	importExtractSpan  = 40
	importValidated    = 65
	importReplacing    = 70
	importReplaced     = 85
	importPersisting   = 90
	importPersisted    = 95
)

// Import replaces live state with the content of the archive at path.
//
// A safety backup is taken first. Until live files are touched a failure
// or cancellation leaves live state exactly as it was. Once replacement
// has begun the operation ignores cancellation, and any failure restores
// the safety backup. On success the caller must restart the application.
func (s *Service) Import(ctx context.Context, path string, progress ProgressFunc) (_ *ImportResult, err error) {
	release, err := s.begin(OpImport)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.ContextWithOperation(ctx, string(OpImport))
	log := logging.Ctx(ctx)
	start := s.now()
	rep := s.newReporter(OpImport, progress)

	defer func() {
		metrics.RecordBackupOperation(string(OpImport), resultLabel(err), time.Since(start))
		if err == nil {
			return
		}
		var ie *ImportError
		if errors.As(err, &ie) && ie.RolledBack {
			rep.finish(StateRolledBack)
		} else {
			rep.finish(StateFailed)
		}
		log.Error().Err(err).Msg("Import failed")
	}()

	rep.report(StateSafetyBackup, 0)

	src, err := os.Open(path) //nolint:gosec // user-selected archive
	if err != nil {
		return nil, &ImportError{Phase: PhaseInvalidArchive, Err: fmt.Errorf("opening archive: %w", err)}
	}
	defer func() { _ = src.Close() }()
	info, err := src.Stat()
	if err != nil {
		return nil, &ImportError{Phase: PhaseInvalidArchive, Err: fmt.Errorf("stat archive: %w", err)}
	}
	if info.IsDir() {
		return nil, &ImportError{Phase: PhaseInvalidArchive, Err: fmt.Errorf("%s is a directory", path)}
	}

	var priorExport *settings.ExportRecord
	err = s.WithLiveState(func() error {
		var err error
		priorExport, err = s.store.LastExport(ctx)
		return err
	})
	if err != nil {
		return nil, &ImportError{Phase: PhaseSafetyBackupFailed, Err: fmt.Errorf("reading export record: %w", err)}
	}

	rec, err := s.takeSafetyBackup(ctx)
	if err != nil {
		return nil, &ImportError{Phase: PhaseSafetyBackupFailed, Err: err}
	}
	rep.report(StateSafetyBackup, importSafetyDone)

	// Until live files are touched, a failed attempt owns its safety backup.
	committed := false
	defer func() {
		if committed {
			return
		}
		if dErr := s.safety.Discard(*rec); dErr != nil {
			log.Warn().Err(dErr).Str("location", rec.Location).Msg("Discarding unused safety backup failed")
		}
	}()

	staging, err := os.MkdirTemp(s.cfg.StagingDir, "import-*")
	if err != nil {
		return nil, &ImportError{Phase: PhaseExtractionFailed, Err: err}
	}
	defer func() {
		if rmErr := fsstore.RemoveAll(staging); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", staging).Msg("Removing import staging directory failed")
		}
	}()

	rep.report(StateValidating, importSafetyDone)
	extracted, err := s.extract(ctx, src, info.Size(), filepath.Join(staging, "archive"), rep)
	if err != nil {
		return nil, err
	}
	rep.report(StateExtracting, importValidated)

	if err := s.inject("import.beforeReplace"); err != nil {
		return nil, &ImportError{Phase: PhaseExtractionFailed, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ImportError{Phase: PhaseExtractionFailed, Err: fmt.Errorf("import cancelled: %w", err)}
	}

	safetyRecord := settings.SafetyBackupRecord{ID: rec.ID, Date: rec.CreatedAt, Location: rec.Location}
	j := &journal{
		Operation:    OpImport,
		Phase:        journalReplacing,
		StartedAt:    s.now().UTC(),
		SafetyBackup: safetyRecord,
		CarryExport:  true,
		LastExport:   priorExport,
	}
	if err := s.writeJournal(j); err != nil {
		return nil, &ImportError{Phase: PhaseSafetyBackupFailed, Err: err}
	}

	// Point of no return.
	committed = true
	ctx = context.WithoutCancel(ctx)
	rep.report(StateReplacing, importReplacing)

	if err := s.replace(ctx, j, rec, rep, func() error {
		return s.replaceLive(ctx, extracted)
	}); err != nil {
		return nil, err
	}

	rep.report(StateDone, 100)
	log.Info().
		Str("safety_backup", rec.Location).
		Int("images", len(extracted.Metadata.Images)).
		Str("archive_app_version", extracted.Metadata.AppVersion).
		Dur("duration", time.Since(start)).
		Msg("Import complete, restart required")

	return &ImportResult{
		RestartRequired: true,
		SafetyBackup:    safetyRecord,
		Metadata:        extracted.Metadata,
		Duration:        time.Since(start),
	}, nil
}

// takeSafetyBackup checkpoints the live database so its main file is
// complete and copies live state into a new safety backup.
func (s *Service) takeSafetyBackup(ctx context.Context) (*safety.Record, error) {
	var rec *safety.Record
	err := s.WithLiveState(func() error {
		if err := s.inject("import.safetyBackup"); err != nil {
			return err
		}
		if err := s.db.Checkpoint(ctx); err != nil {
			return err
		}
		var err error
		rec, err = s.safety.Create(ctx)
		return err
	})
	return rec, err
}

// extract streams the archive into dir and checks the staged database.
func (s *Service) extract(ctx context.Context, src *os.File, size int64, dir string, rep *reporter) (*archive.Extracted, error) {
	pr := &progressReader{r: src, total: size, fn: func(read, total int64) {
		rep.report(StateExtracting, importExtractStart+int(read*importExtractSpan/total))
	}}

	extracted, err := s.codec.Extract(ctx, pr, dir)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, &ImportError{Phase: PhaseExtractionFailed, Err: fmt.Errorf("import cancelled: %w", ctx.Err())}
		case archive.IsArchiveError(err):
			return nil, &ImportError{Phase: PhaseInvalidArchive, Err: err}
		default:
			return nil, &ImportError{Phase: PhaseExtractionFailed, Err: err}
		}
	}

	version, err := database.IntegrityCheck(ctx, extracted.DatabasePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ImportError{Phase: PhaseExtractionFailed, Err: fmt.Errorf("import cancelled: %w", ctx.Err())}
		}
		return nil, &ImportError{Phase: PhaseInvalidArchive, Err: err}
	}
	if version != extracted.Metadata.SchemaVersion {
		return nil, &ImportError{Phase: PhaseInvalidArchive, Err: &archive.InvalidArchiveError{
			Member: archive.DatabaseMember,
			Reason: fmt.Sprintf("schema version %d does not match metadata (%d)", version, extracted.Metadata.SchemaVersion),
		}}
	}
	return extracted, nil
}

// replace runs swap under the live-state write lock, then reopens the
// database and writes the journal's settings into it. Any failure rolls
// live state back to rec. The journal must already be written.
func (s *Service) replace(ctx context.Context, j *journal, rec *safety.Record, rep *reporter, swap func() error) error {
	s.live.Lock()
	defer s.live.Unlock()

	err := swap()
	if err == nil {
		rep.report(StateReplacing, importReplaced)
		err = s.persist(ctx, j, rep)
	}
	if err == nil {
		s.clearJournal()
		return nil
	}

	s.logger.Error().Err(err).Str("location", rec.Location).Msg("Replacing live state failed, rolling back")
	if j.Phase != journalReplacing {
		// A crash during rollback must lead Recover to restore again.
		j.Phase = journalReplacing
		if jErr := s.writeJournal(j); jErr != nil {
			s.logger.Warn().Err(jErr).Msg("Resetting import journal before rollback failed")
		}
	}
	if rbErr := s.rollback(ctx, rec); rbErr != nil {
		s.logger.Error().Err(rbErr).Str("location", rec.Location).Msg("Rollback failed, manual recovery required")
		return &ImportError{
			Phase:          PhaseRollbackFailed,
			Err:            errors.Join(err, rbErr),
			SafetyLocation: rec.Location,
		}
	}
	return &ImportError{Phase: PhaseReplaceFailed, Err: err, RolledBack: true, SafetyLocation: rec.Location}
}

// replaceLive closes the database, deletes live files and moves the staged
// ones into place.
func (s *Service) replaceLive(ctx context.Context, ex *archive.Extracted) error {
	if err := s.db.Close(); err != nil {
		return err
	}

	live := s.db.Path()
	for _, p := range liveDatabaseFiles(live) {
		if err := fsstore.Remove(p); err != nil {
			return fmt.Errorf("removing live database: %w", err)
		}
	}
	if err := s.inject("import.replace"); err != nil {
		return err
	}
	if err := fsstore.RemoveAll(s.cfg.ImagesDir); err != nil {
		return fmt.Errorf("removing live images: %w", err)
	}
	if err := fsstore.Move(ctx, ex.DatabasePath, live); err != nil {
		return fmt.Errorf("moving staged database: %w", err)
	}
	if err := s.inject("import.replaceImages"); err != nil {
		return err
	}
	if err := fsstore.Move(ctx, ex.ImagesDir, s.cfg.ImagesDir); err != nil {
		return fmt.Errorf("moving staged images: %w", err)
	}
	return nil
}

// persist reopens the database and records the journal's settings in it.
func (s *Service) persist(ctx context.Context, j *journal, rep *reporter) error {
	rep.report(StatePersisting, importPersisting)
	if err := s.db.Reopen(ctx); err != nil {
		return fmt.Errorf("reopening database: %w", err)
	}

	j.Phase = journalReplaced
	if err := s.writeJournal(j); err != nil {
		return err
	}
	if err := s.inject("import.persist"); err != nil {
		return err
	}
	if err := s.applyJournalRecords(ctx, j); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	rep.report(StatePersisting, importPersisted)
	return nil
}

// rollback restores rec over live state and reopens the database. The
// caller holds the live-state write lock.
func (s *Service) rollback(ctx context.Context, rec *safety.Record) error {
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Closing database before rollback failed")
	}
	if err := s.inject("rollback"); err != nil {
		return err
	}
	if err := s.safety.Restore(ctx, *rec); err != nil {
		return err
	}
	if err := s.db.Reopen(ctx); err != nil {
		return fmt.Errorf("reopening restored database: %w", err)
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	s.clearJournal()
	return nil
}

func liveDatabaseFiles(path string) []string {
	out := []string{path}
	for _, suffix := range database.SidecarSuffixes {
		out = append(out, path+suffix)
	}
	return out
}
