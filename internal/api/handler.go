// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

/*
Package api is Platebook's local HTTP front end to the backup engine.

Routes (all JSON unless noted):

	GET  /api/v1/health                      liveness and engine state
	GET  /api/v1/backup/status               settings-screen fields
	POST /api/v1/backup/export               run an export
	POST /api/v1/backup/import               upload and import an archive
	POST /api/v1/backup/restore-previous     undo the last import
	GET  /api/v1/backup/exports              list archives
	GET  /api/v1/backup/exports/{name}       download an archive (binary)
	GET  /api/v1/ws                          progress push (WebSocket)
	GET  /metrics                            Prometheus

Operations run on the request goroutine. Progress goes to every WebSocket
client through the hub; the HTTP response carries the final result.

Every response uses the envelope in response.go. Errors carry a
machine-readable code; see errors.go for the mapping from engine errors.
*/
package api

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/platebook/internal/backup"
	ws "github.com/tomtom215/platebook/internal/websocket"
)

// Engine is the part of backup.Service the API drives.
type Engine interface {
	Status(ctx context.Context) (*backup.Status, error)
	Export(ctx context.Context, progress backup.ProgressFunc) (*backup.ExportResult, error)
	Import(ctx context.Context, path string, progress backup.ProgressFunc) (*backup.ImportResult, error)
	RestorePrevious(ctx context.Context, progress backup.ProgressFunc) (*backup.RestoreResult, error)
	ListExports() ([]backup.ExportFile, error)
	ExportPath(name string) (string, error)
	Active() backup.Operation
}

var _ Engine = (*backup.Service)(nil)

// Options configures a Handler.
type Options struct {
	// UploadDir receives import uploads before they are handed to the
	// engine. It should be the engine's staging directory.
	UploadDir string

	MaxUploadBytes int64

	// UploadRateBytes throttles uploads in bytes per second; 0 disables.
	UploadRateBytes int

	// AllowedOrigins are accepted on WebSocket upgrades besides same-host.
	AllowedOrigins []string

	// RequestRestart is called after an import or restore replaced live
	// state. It runs after the response has been written.
	RequestRestart func(op backup.Operation)

	Version string
}

// Handler serves the API.
type Handler struct {
	engine    Engine
	hub       *ws.Hub
	opts      Options
	limiter   *rate.Limiter
	startTime time.Time
}

// NewHandler creates a Handler. hub may be nil, in which case the WebSocket
// endpoint answers 503 and completion events are not broadcast.
func NewHandler(engine Engine, hub *ws.Hub, opts Options) *Handler {
	h := &Handler{
		engine:    engine,
		hub:       hub,
		opts:      opts,
		startTime: time.Now(),
	}
	if opts.UploadRateBytes > 0 {
		burst := opts.UploadRateBytes
		if burst < minUploadBurst {
			burst = minUploadBurst
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.UploadRateBytes), burst)
	}
	return h
}

func (h *Handler) requestRestart(op backup.Operation) {
	if h.opts.RequestRestart != nil {
		h.opts.RequestRestart(op)
	}
}

func (h *Handler) broadcastCompleted(op backup.Operation, result interface{}, restart bool) {
	if h.hub != nil {
		h.hub.BroadcastCompleted(op, result, restart)
	}
}

func (h *Handler) broadcastFailed(op backup.Operation, err error) {
	if h.hub != nil {
		h.hub.BroadcastFailed(op, err)
	}
}
