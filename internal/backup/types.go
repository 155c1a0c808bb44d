// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package backup

import (
	"time"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/settings"
)

// Operation identifies what the Service is doing.
type Operation string

const (
	OpNone            Operation = ""
	OpExport          Operation = "export"
	OpImport          Operation = "import"
	OpRestorePrevious Operation = "restore_previous"
	OpRecover         Operation = "recover"
	OpPurge           Operation = "purge"
)

// State is a step of an operation's state machine.
type State string

const (
	StateIdle         State = "idle"
	StateCollecting   State = "collecting"
	StateArchiving    State = "archiving"
	StateSafetyBackup State = "safety_backup"
	StateValidating   State = "validating"
	StateExtracting   State = "extracting"
	StateReplacing    State = "replacing"
	StateRestoring    State = "restoring"
	StatePersisting   State = "persisting"
	StateDone         State = "done"
	StateFailed       State = "failed"
	StateRolledBack   State = "rolled_back"
)

// Progress is one progress notification. Percent never decreases within an
// operation and starts at 0 for every new operation.
type Progress struct {
	Operation Operation `json:"operation"`
	State     State     `json:"state"`
	Percent   int       `json:"percent"`
}

// ProgressFunc receives progress notifications on the goroutine running
// the operation. It must not block for long.
type ProgressFunc func(Progress)

// ExportResult is returned by a successful Export.
type ExportResult struct {
	Record   settings.ExportRecord `json:"record"`
	Metadata archive.Metadata      `json:"metadata"`
	Duration time.Duration         `json:"duration"`
}

// ImportResult is returned by a successful Import.
type ImportResult struct {
	// RestartRequired is always true: every open handle on the old
	// database is stale and the application must reload.
	RestartRequired bool `json:"restartRequired"`

	SafetyBackup settings.SafetyBackupRecord `json:"safetyBackup"`
	Metadata     archive.Metadata            `json:"metadata"`
	Duration     time.Duration               `json:"duration"`
}

// RestoreResult is returned by a successful RestorePrevious.
type RestoreResult struct {
	RestartRequired bool                        `json:"restartRequired"`
	SafetyBackup    settings.SafetyBackupRecord `json:"safetyBackup"`
}

// RecoveryResult reports what Recover did at startup.
type RecoveryResult struct {
	// RolledBack is set when an import interrupted during Replacing was
	// undone from its safety backup.
	RolledBack bool `json:"rolledBack"`

	// RecordRestored is set when the safety backup record had to be
	// written again because it was lost with the replaced database.
	RecordRestored bool `json:"recordRestored"`

	// Purged counts expired safety backups removed.
	Purged int `json:"purged"`
}

// ExportFile is an archive found in the export directory.
type ExportFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Status is a snapshot of the engine for a settings screen.
type Status struct {
	Busy             bool                         `json:"busy"`
	Operation        Operation                    `json:"operation,omitempty"`
	LastExport       *settings.ExportRecord       `json:"lastExport,omitempty"`
	LastSafetyBackup *settings.SafetyBackupRecord `json:"lastSafetyBackup,omitempty"`
	SafetyBackups    int                          `json:"safetyBackups"`
	Exports          []ExportFile                 `json:"exports"`
}
