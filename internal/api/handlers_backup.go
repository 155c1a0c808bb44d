// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/platebook/internal/archive"
	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
)

// BackupStatus returns the fields a settings screen shows.
// GET /api/v1/backup/status
func (h *Handler) BackupStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, st)
}

// BackupExport writes a new export archive and returns its record.
// POST /api/v1/backup/export
func (h *Handler) BackupExport(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWithOperation(r.Context(), string(backup.OpExport))

	res, err := h.engine.Export(ctx, nil)
	if err != nil {
		h.broadcastFailed(backup.OpExport, err)
		respondEngineError(w, r, err)
		return
	}
	h.broadcastCompleted(backup.OpExport, res, false)
	respondJSON(w, r, http.StatusCreated, res)
}

// BackupImport receives an archive and replaces live state with it. The
// body is either the raw archive or a multipart form with a "file" field.
// POST /api/v1/backup/import
func (h *Handler) BackupImport(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWithOperation(r.Context(), string(backup.OpImport))

	// Refuse early so a busy engine does not cost a full upload.
	if active := h.engine.Active(); active != backup.OpNone {
		respondEngineError(w, r, &backup.BusyError{Active: active})
		return
	}

	path, size, err := h.receiveUpload(w, r)
	if err != nil {
		switch {
		case errors.Is(err, errUploadTooLarge):
			respondError(w, r, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, err.Error(),
				map[string]interface{}{"maxBytes": h.opts.MaxUploadBytes}, err)
		case errors.Is(err, errUploadMissing):
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, nil)
		case isCancellation(err):
			respondError(w, r, http.StatusRequestTimeout, ErrCodeCancelled, "upload cancelled", nil, err)
		default:
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "reading upload failed", nil, err)
		}
		return
	}
	defer removeUpload(ctx, path)
	logging.Ctx(ctx).Info().Int64("bytes", size).Msg("Import upload received")

	res, err := h.engine.Import(ctx, path, nil)
	if err != nil {
		h.broadcastFailed(backup.OpImport, err)
		respondEngineError(w, r, err)
		return
	}
	h.broadcastCompleted(backup.OpImport, res, res.RestartRequired)
	respondJSON(w, r, http.StatusOK, res)
	if res.RestartRequired {
		h.requestRestart(backup.OpImport)
	}
}

// BackupRestorePrevious restores live state from the last safety backup.
// POST /api/v1/backup/restore-previous
func (h *Handler) BackupRestorePrevious(w http.ResponseWriter, r *http.Request) {
	ctx := logging.ContextWithOperation(r.Context(), string(backup.OpRestorePrevious))

	res, err := h.engine.RestorePrevious(ctx, nil)
	if err != nil {
		h.broadcastFailed(backup.OpRestorePrevious, err)
		respondEngineError(w, r, err)
		return
	}
	h.broadcastCompleted(backup.OpRestorePrevious, res, res.RestartRequired)
	respondJSON(w, r, http.StatusOK, res)
	if res.RestartRequired {
		h.requestRestart(backup.OpRestorePrevious)
	}
}

// listExportsRequest holds the query parameters of BackupListExports.
type listExportsRequest struct {
	Limit       int    `validate:"min=0,max=1000"`
	Compression string `validate:"compression"`
}

// BackupListExports lists export archives, newest first. Optional query
// parameters: limit (0 means all) and compression (none, gzip or zstd).
// GET /api/v1/backup/exports
func (h *Handler) BackupListExports(w http.ResponseWriter, r *http.Request) {
	req := listExportsRequest{
		Limit:       getIntParam(r, "limit", 0),
		Compression: r.URL.Query().Get("compression"),
	}
	if !validateRequest(w, r, &req) {
		return
	}

	files, err := h.engine.ListExports()
	if err != nil {
		respondEngineError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, filterExports(files, req))
}

func filterExports(files []backup.ExportFile, req listExportsRequest) []backup.ExportFile {
	if strings.TrimSpace(req.Compression) != "" {
		c, err := archive.ParseCompression(req.Compression)
		if err == nil {
			kept := files[:0]
			for _, f := range files {
				if strings.HasSuffix(f.Name, c.Extension()) {
					kept = append(kept, f)
				}
			}
			files = kept
		}
	}
	if req.Limit > 0 && len(files) > req.Limit {
		files = files[:req.Limit]
	}
	return files
}

// BackupDownloadExport streams one archive.
// GET /api/v1/backup/exports/{name}
func (h *Handler) BackupDownloadExport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := h.engine.ExportPath(name)
	if err != nil {
		respondEngineError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			respondEngineError(w, r, fmt.Errorf("%w: %q", backup.ErrExportNotFound, name))
			return
		}
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "opening archive failed", nil, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "reading archive failed", nil, err)
		return
	}

	w.Header().Set("Content-Type", archiveContentType(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)

	//nolint:errcheck // headers are sent; nothing left to report to the client
	io.Copy(w, f)
}

func archiveContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	default:
		return "application/x-tar"
	}
}
