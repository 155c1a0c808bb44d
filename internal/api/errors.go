// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/platebook/internal/backup"
)

// errorResponse is how an engine error is rendered.
type errorResponse struct {
	status  int
	code    string
	message string
	details map[string]interface{}
}

// importErrorCodes maps import phases to API codes and statuses.
var importErrorCodes = map[backup.Phase]struct {
	status int
	code   string
}{
	backup.PhaseInvalidArchive:     {http.StatusUnprocessableEntity, ErrCodeInvalidArchive},
	backup.PhaseSafetyBackupFailed: {http.StatusInternalServerError, ErrCodeSafetyBackupFailed},
	backup.PhaseExtractionFailed:   {http.StatusInternalServerError, ErrCodeExtractionFailed},
	backup.PhaseReplaceFailed:      {http.StatusInternalServerError, ErrCodeReplaceFailed},
	backup.PhaseRollbackFailed:     {http.StatusInternalServerError, ErrCodeRollbackFailed},
}

// classifyError maps an error from the engine to a response.
func classifyError(err error) errorResponse {
	var (
		busyErr   *backup.BusyError
		importErr *backup.ImportError
		exportErr *backup.ExportError
	)

	switch {
	case errors.As(err, &busyErr):
		return errorResponse{
			status:  http.StatusConflict,
			code:    ErrCodeBusy,
			message: err.Error(),
			details: map[string]interface{}{"active": busyErr.Active},
		}

	case errors.Is(err, backup.ErrNoSafetyBackup):
		return errorResponse{status: http.StatusNotFound, code: ErrCodeNoSafetyBackup, message: err.Error()}

	case errors.Is(err, backup.ErrExportNotFound):
		return errorResponse{status: http.StatusNotFound, code: ErrCodeNotFound, message: err.Error()}

	case errors.As(err, &importErr):
		resp := errorResponse{
			status:  http.StatusInternalServerError,
			code:    ErrCodeInternalError,
			message: err.Error(),
			details: map[string]interface{}{
				"phase":               importErr.Phase,
				"rolledBack":          importErr.RolledBack,
				"settingsPending":     importErr.SettingsPending,
				"retryable":           importErr.Retryable(),
				"liveStateConsistent": importErr.LiveStateConsistent(),
			},
		}
		if importErr.SafetyLocation != "" {
			resp.details["safetyLocation"] = importErr.SafetyLocation
		}
		if c, ok := importErrorCodes[importErr.Phase]; ok {
			resp.status, resp.code = c.status, c.code
		}
		if isCancellation(err) && importErr.LiveStateConsistent() && !importErr.RolledBack {
			resp.status, resp.code = http.StatusRequestTimeout, ErrCodeCancelled
		}
		return resp

	case errors.As(err, &exportErr):
		resp := errorResponse{
			status:  http.StatusInternalServerError,
			code:    ErrCodeExportFailed,
			message: err.Error(),
			details: map[string]interface{}{"phase": exportErr.Phase},
		}
		if isCancellation(err) {
			resp.status, resp.code = http.StatusRequestTimeout, ErrCodeCancelled
		}
		return resp

	case isCancellation(err):
		return errorResponse{status: http.StatusRequestTimeout, code: ErrCodeCancelled, message: err.Error()}
	}

	return errorResponse{status: http.StatusInternalServerError, code: ErrCodeInternalError, message: "internal error"}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func respondEngineError(w http.ResponseWriter, r *http.Request, err error) {
	resp := classifyError(err)
	var details interface{}
	if resp.details != nil {
		details = resp.details
	}
	respondError(w, r, resp.status, resp.code, resp.message, details, err)
}
