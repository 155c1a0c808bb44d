// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/metrics"
	"github.com/tomtom215/platebook/internal/safety"
	"github.com/tomtom215/platebook/internal/settings"
)

// RestorePrevious puts live state back to the safety backup taken before
// the last import. The backup is kept, so restoring twice is harmless. A
// failure while files are being copied leaves live state inconsistent and
// is reported as PhaseRollbackFailed with the backup location. A failure
// after the restored database is open is reported as PhaseReplaceFailed
// with SettingsPending set.
func (s *Service) RestorePrevious(ctx context.Context, progress ProgressFunc) (_ *RestoreResult, err error) {
	release, err := s.begin(OpRestorePrevious)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx = logging.ContextWithOperation(ctx, string(OpRestorePrevious))
	log := logging.Ctx(ctx)
	start := s.now()
	rep := s.newReporter(OpRestorePrevious, progress)

	defer func() {
		metrics.RecordBackupOperation(string(OpRestorePrevious), resultLabel(err), time.Since(start))
		if err != nil {
			rep.finish(StateFailed)
			log.Error().Err(err).Msg("Restore from safety backup failed")
		}
	}()

	rep.report(StateRestoring, 0)

	rec, record, err := s.previousSafetyBackup(ctx)
	if err != nil {
		return nil, err
	}
	rep.report(StateRestoring, 10)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	j := &journal{
		Operation:    OpRestorePrevious,
		Phase:        journalReplacing,
		StartedAt:    s.now().UTC(),
		SafetyBackup: record,
	}
	if err := s.writeJournal(j); err != nil {
		return nil, err
	}

	rep.report(StateReplacing, 20)
	if err := s.restoreFrom(ctx, rec, j); err != nil {
		var ie *ImportError
		if errors.As(err, &ie) {
			return nil, err
		}
		return nil, &ImportError{Phase: PhaseRollbackFailed, Err: err, SafetyLocation: rec.Location}
	}
	rep.report(StatePersisting, 90)
	s.clearJournal()

	rep.report(StateDone, 100)
	log.Info().
		Str("location", rec.Location).
		Time("backup_created", rec.CreatedAt).
		Msg("Live state restored from safety backup, restart required")
	return &RestoreResult{RestartRequired: true, SafetyBackup: record}, nil
}

// previousSafetyBackup resolves the safety backup to restore: the one
// recorded in settings, or else the newest on disk.
func (s *Service) previousSafetyBackup(ctx context.Context) (*safety.Record, settings.SafetyBackupRecord, error) {
	var recorded *settings.SafetyBackupRecord
	err := s.WithLiveState(func() error {
		var err error
		recorded, err = s.store.LastSafetyBackup(ctx)
		return err
	})
	if err != nil {
		return nil, settings.SafetyBackupRecord{}, fmt.Errorf("reading safety backup record: %w", err)
	}

	var rec *safety.Record
	if recorded != nil {
		rec, err = s.safety.Load(recorded.Location)
		if err != nil && !errors.Is(err, safety.ErrNotFound) && !errors.Is(err, safety.ErrOutsideRoot) {
			return nil, settings.SafetyBackupRecord{}, err
		}
	}
	if rec == nil {
		if rec, err = s.safety.Latest(); err != nil {
			return nil, settings.SafetyBackupRecord{}, err
		}
	}
	if rec == nil {
		return nil, settings.SafetyBackupRecord{}, ErrNoSafetyBackup
	}
	return rec, settings.SafetyBackupRecord{ID: rec.ID, Date: rec.CreatedAt, Location: rec.Location}, nil
}

// restoreFrom swaps rec in under the write lock, reopens the database and
// records the safety backup in it. Errors after the reopen are returned as
// *ImportError since live state is whole by then.
func (s *Service) restoreFrom(ctx context.Context, rec *safety.Record, j *journal) error {
	s.live.Lock()
	defer s.live.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Closing database before restore failed")
	}
	if err := s.inject("restore"); err != nil {
		return err
	}
	if err := s.safety.Restore(ctx, *rec); err != nil {
		return err
	}
	if err := s.db.Reopen(ctx); err != nil {
		return fmt.Errorf("reopening restored database: %w", err)
	}

	if err := s.recordRestore(ctx, j); err != nil {
		return &ImportError{Phase: PhaseReplaceFailed, Err: err, SettingsPending: true, SafetyLocation: rec.Location}
	}
	return nil
}

func (s *Service) recordRestore(ctx context.Context, j *journal) error {
	if err := s.inject("restore.record"); err != nil {
		return err
	}
	j.Phase = journalReplaced
	if err := s.writeJournal(j); err != nil {
		return err
	}
	if err := s.inject("restore.persist"); err != nil {
		return err
	}
	return s.applyJournalRecords(ctx, j)
}
