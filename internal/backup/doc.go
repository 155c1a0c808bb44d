// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Package backup exports Platebook's entire local state to a single archive
// and replaces local state from such an archive, with automatic rollback.
//
// # Overview
//
// Live state is the SQLite database file plus the images directory. The
// Service is its only writer while an operation runs:
//
//	Export:  Idle -> Collecting -> Archiving -> Persisting -> Done | Failed
//	Import:  Idle -> SafetyBackup -> Validating -> Extracting -> Replacing
//	         -> Persisting -> Done | Failed -> RolledBack
//
// # Import safety
//
// Before an import touches anything, a safety backup of live state is taken
// (see package safety). The archive is then extracted into a private
// staging directory and its database is integrity-checked. Only then are
// the live files deleted and staging moved into place. That Replacing step
// is the single irreversible step: it cannot be cancelled, and any failure
// from there on restores the safety backup automatically.
//
// An import journal in the recovery root records whether Replacing was in
// progress or complete, so Recover can finish the job after a crash:
//
//	replacing  -> live state may be half-replaced, restore the safety backup
//	replaced   -> replacement done, re-record the safety backup in settings
//
// The Service is also the only writer across processes: every operation
// holds an advisory lock on <SafetyDir>/.lock, and a Recover that finds it
// held leaves the journal and staging of the other process alone.
//
// # Errors
//
//	ExportError{Phase}   collect, archive, write, settings
//	ImportError{Phase}   safetyBackupFailed, invalidArchive, extractionFailed,
//	                     replaceFailed, rollbackFailed
//	BusyError            another operation is running (errors.Is(err, ErrBusy))
//
// replaceFailed is either rolled back (RolledBack) or complete with its
// settings records still to be written (SettingsPending).
// ImportError.LiveStateConsistent reports false only for rollbackFailed, in
// which case SafetyLocation names the directory to recover from by hand.
//
// # Usage
//
//	svc, err := backup.New(ctx, cfg, db)
//	if err != nil {
//		return err
//	}
//	if _, err := svc.Recover(ctx); err != nil {
//		logging.Warn().Err(err).Msg("Startup recovery incomplete")
//	}
//
//	res, err := svc.Import(ctx, "/sdcard/Download/platebook-backup.tar.zst", func(p backup.Progress) {
//		fmt.Printf("\r%s %3d%%", p.State, p.Percent)
//	})
//	if res != nil && res.RestartRequired {
//		requestRestart()
//	}
package backup
