// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package main

import (
	"context"
	"errors"

	"github.com/tomtom215/platebook/internal/backup"
)

// ErrorCode is the machine-readable class of a failed command.
type ErrorCode string

const (
	ErrGeneral         ErrorCode = "GENERAL_ERROR"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrInvalidArchive  ErrorCode = "INVALID_ARCHIVE"
	ErrBusy            ErrorCode = "BUSY"
	ErrRolledBack      ErrorCode = "ROLLED_BACK"
	ErrManualRecovery  ErrorCode = "MANUAL_RECOVERY_REQUIRED"
	ErrCancelled       ErrorCode = "CANCELLED"
	ErrAborted         ErrorCode = "ABORTED"
	ErrConfig          ErrorCode = "CONFIG_ERROR"
	ErrRestartRequired ErrorCode = "RESTART_REQUIRED"
)

// Exit codes. ExitRestart follows sysexits EX_TEMPFAIL so a process manager
// restarts the server after an import replaced live state.
const (
	ExitSuccess        = 0
	ExitGeneral        = 1
	ExitNotFound       = 2
	ExitInvalidArchive = 3
	ExitBusy           = 4
	ExitRolledBack     = 5
	ExitManualRecovery = 6
	ExitRestart        = 75
	ExitConfig         = 78
	ExitCancelled      = 130
)

var exitCodes = map[ErrorCode]int{
	ErrNotFound:        ExitNotFound,
	ErrInvalidArchive:  ExitInvalidArchive,
	ErrBusy:            ExitBusy,
	ErrRolledBack:      ExitRolledBack,
	ErrManualRecovery:  ExitManualRecovery,
	ErrCancelled:       ExitCancelled,
	ErrAborted:         ExitGeneral,
	ErrConfig:          ExitConfig,
	ErrRestartRequired: ExitRestart,
}

// ExitCodeForError maps an ErrorCode to the process exit code.
func ExitCodeForError(code ErrorCode) int {
	if c, ok := exitCodes[code]; ok {
		return c
	}
	return ExitGeneral
}

// CmdError wraps an error with a machine-readable code.
type CmdError struct {
	Err  error
	Code ErrorCode
}

func (e *CmdError) Error() string { return e.Err.Error() }

func (e *CmdError) Unwrap() error { return e.Err }

func cmdErr(err error, code ErrorCode) *CmdError {
	return &CmdError{Err: err, Code: code}
}

// classify picks the code for an engine error.
func classify(err error) ErrorCode {
	var (
		cmdError  *CmdError
		importErr *backup.ImportError
	)
	switch {
	case errors.As(err, &cmdError):
		return cmdError.Code
	case errors.Is(err, backup.ErrBusy):
		return ErrBusy
	case errors.Is(err, backup.ErrNoSafetyBackup), errors.Is(err, backup.ErrExportNotFound):
		return ErrNotFound
	case errors.As(err, &importErr):
		switch {
		case !importErr.LiveStateConsistent():
			return ErrManualRecovery
		case importErr.SettingsPending:
			return ErrRestartRequired
		case importErr.RolledBack:
			return ErrRolledBack
		case importErr.Phase == backup.PhaseInvalidArchive:
			return ErrInvalidArchive
		case errors.Is(err, context.Canceled):
			return ErrCancelled
		}
		return ErrGeneral
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return ErrGeneral
	}
}
