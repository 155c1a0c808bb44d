// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"errors"
	"fmt"
)

// Phase names the step an operation failed in.
type Phase string

// Export phases.
const (
	PhaseCollect  Phase = "collect"
	PhaseArchive  Phase = "archive"
	PhaseWrite    Phase = "write"
	PhaseSettings Phase = "settings"
)

// Import phases.
const (
	PhaseSafetyBackupFailed Phase = "safetyBackupFailed"
	PhaseInvalidArchive     Phase = "invalidArchive"
	PhaseExtractionFailed   Phase = "extractionFailed"
	PhaseReplaceFailed      Phase = "replaceFailed"
	PhaseRollbackFailed     Phase = "rollbackFailed"
)

var (
	// ErrNoSafetyBackup is returned by RestorePrevious when there is nothing to restore.
	ErrNoSafetyBackup = errors.New("no safety backup available")

	// ErrExportNotFound is returned by ExportPath for unknown archive names.
	ErrExportNotFound = errors.New("export archive not found")
)

// ExportError is returned by Export. The previous export record is intact.
type ExportError struct {
	Phase Phase
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed during %s: %v", e.Phase, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// ImportError is returned by Import and RestorePrevious.
type ImportError struct {
	Phase Phase
	Err   error

	// RolledBack is set when live state was replaced and then restored
	// from the safety backup.
	RolledBack bool

	// SettingsPending is set when the replacement itself finished but its
	// settings records were not written. Live state is consistent and the
	// next Recover writes them from the journal.
	SettingsPending bool

	// SafetyLocation is the safety backup directory, when one was taken.
	SafetyLocation string
}

func (e *ImportError) Error() string {
	switch {
	case e.Phase == PhaseRollbackFailed:
		return fmt.Sprintf("import failed and rollback failed, manual recovery required from %s: %v", e.SafetyLocation, e.Err)
	case e.SettingsPending:
		return fmt.Sprintf("live state replaced but recording it failed, it will be completed at next start: %v", e.Err)
	case e.RolledBack:
		return fmt.Sprintf("import failed after replacing live state and was rolled back: %v", e.Err)
	default:
		return fmt.Sprintf("import failed (%s), live state unchanged: %v", e.Phase, e.Err)
	}
}

func (e *ImportError) Unwrap() error { return e.Err }

// LiveStateConsistent reports whether live state is known to be either
// untouched or fully restored. It is false only after a failed rollback.
func (e *ImportError) LiveStateConsistent() bool {
	return e.Phase != PhaseRollbackFailed
}

// Retryable reports whether the user can simply try again.
func (e *ImportError) Retryable() bool {
	return e.LiveStateConsistent()
}

// BusyError is returned when another operation is already running.
type BusyError struct {
	Active Operation
}

func (e *BusyError) Error() string {
	if e.Active == OpNone {
		return "backup engine busy"
	}
	return fmt.Sprintf("backup engine busy: %s in progress", e.Active)
}

// Is makes every BusyError match ErrBusy.
func (e *BusyError) Is(target error) bool {
	_, ok := target.(*BusyError)
	return ok
}

// ErrBusy matches any BusyError with errors.Is.
var ErrBusy error = &BusyError{}
