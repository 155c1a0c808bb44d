// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/platebook/internal/fsstore"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/settings"
)

// Recover reconciles live state after an unclean shutdown. Call it once at
// startup before the database is used.
//
// An import interrupted while live files were being replaced is rolled
// back from its safety backup. One interrupted after replacement gets its
// settings written into the new database. If settings hold no record of a
// safety backup newer than the newest one on disk, the record is restored
// from disk. Finally, scratch files are cleared and expired safety backups
// are purged.
//
// When another process sharing the data directory is running an operation,
// its journal and scratch files are live, so Recover leaves them alone and
// returns a *BusyError.
func (s *Service) Recover(ctx context.Context) (*RecoveryResult, error) {
	release, err := s.begin(OpRecover)
	if err != nil {
		return nil, err
	}

	ctx = logging.ContextWithOperation(ctx, string(OpRecover))
	log := logging.Ctx(ctx)
	res := &RecoveryResult{}

	err = s.replayJournal(ctx, res)
	if err == nil {
		err = s.rediscoverSafetyBackup(ctx, res)
	}
	s.clearScratch()
	release()

	if err != nil {
		return res, err
	}

	res.Purged = s.PurgeSafetyBackups()
	if res.RolledBack || res.RecordRestored || res.Purged > 0 {
		log.Info().
			Bool("rolled_back", res.RolledBack).
			Bool("record_restored", res.RecordRestored).
			Int("purged", res.Purged).
			Msg("Startup recovery finished")
	}
	return res, nil
}

func (s *Service) replayJournal(ctx context.Context, res *RecoveryResult) error {
	j, err := s.readJournal()
	if err != nil || j == nil {
		return err
	}
	log := logging.Ctx(ctx)

	switch j.Phase {
	case journalReplaced:
		log.Warn().Str("operation", string(j.Operation)).Msg("Completing settings of an interrupted replacement")
		err := s.WithLiveState(func() error { return s.applyJournalRecords(ctx, j) })
		if err != nil {
			return &ImportError{Phase: PhaseReplaceFailed, Err: err, SettingsPending: true, SafetyLocation: j.SafetyBackup.Location}
		}
		res.RecordRestored = true

	default:
		log.Warn().
			Str("operation", string(j.Operation)).
			Str("location", j.SafetyBackup.Location).
			Msg("Interrupted replacement found, restoring safety backup")
		if err := s.restoreAfterCrash(ctx, j); err != nil {
			return &ImportError{Phase: PhaseRollbackFailed, Err: err, SafetyLocation: j.SafetyBackup.Location}
		}
		res.RolledBack = true
	}

	s.clearJournal()
	return nil
}

// restoreAfterCrash rolls back an interrupted import, or finishes an
// interrupted RestorePrevious, which is the same copy from the same backup.
func (s *Service) restoreAfterCrash(ctx context.Context, j *journal) error {
	rec, err := s.safety.Load(j.SafetyBackup.Location)
	if err != nil {
		return err
	}
	s.live.Lock()
	defer s.live.Unlock()

	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Closing database before recovery failed")
	}
	if err := s.safety.Restore(ctx, *rec); err != nil {
		return err
	}
	if err := s.db.Reopen(ctx); err != nil {
		return err
	}
	if err := s.store.EnsureSchema(ctx); err != nil {
		return err
	}
	if j.Operation == OpRestorePrevious {
		return s.store.SaveSafetyBackup(ctx, j.SafetyBackup)
	}
	return nil
}

// rediscoverSafetyBackup records the newest on-disk safety backup when
// settings have lost track of it.
func (s *Service) rediscoverSafetyBackup(ctx context.Context, res *RecoveryResult) error {
	latest, err := s.safety.Latest()
	if err != nil || latest == nil {
		return err
	}

	return s.WithLiveState(func() error {
		current, err := s.store.LastSafetyBackup(ctx)
		if err != nil {
			return err
		}
		if current != nil && !latest.CreatedAt.After(current.Date) {
			return nil
		}
		rec := settings.SafetyBackupRecord{ID: latest.ID, Date: latest.CreatedAt, Location: latest.Location}
		if err := s.store.SaveSafetyBackup(ctx, rec); err != nil {
			return err
		}
		res.RecordRestored = true
		logging.Ctx(ctx).Info().Str("location", latest.Location).Msg("Safety backup record restored from disk")
		return nil
	})
}

// clearScratch removes leftovers of operations killed mid-way.
func (s *Service) clearScratch() {
	if entries, err := os.ReadDir(s.cfg.StagingDir); err == nil {
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "import-") || strings.HasPrefix(e.Name(), "export-") {
				if err := fsstore.RemoveAll(filepath.Join(s.cfg.StagingDir, e.Name())); err != nil {
					s.logger.Warn().Err(err).Str("dir", e.Name()).Msg("Removing stale staging directory failed")
				}
			}
		}
	}
	if files, err := fsstore.ListFiles(s.cfg.ExportDir); err == nil {
		for _, f := range files {
			if strings.HasPrefix(f.Name, ".platebook-export-") && strings.HasSuffix(f.Name, ".tmp") {
				if err := fsstore.Remove(f.Path); err != nil {
					s.logger.Warn().Err(err).Str("file", f.Name).Msg("Removing stale export temp file failed")
				}
			}
		}
	}
}
