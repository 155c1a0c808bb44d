// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/platebook/internal/metrics"
	"github.com/tomtom215/platebook/internal/middleware"
)

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	CORSOrigins []string

	// RateLimitRequests bounds export/import/restore calls per client IP
	// per RateLimitWindow; 0 disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// chiMiddleware adapts http.HandlerFunc middleware to chi's r.Use.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

func noop(next http.Handler) http.Handler { return next }

func (c RouterConfig) corsHandler() func(http.Handler) http.Handler {
	if len(c.CORSOrigins) == 0 {
		return noop
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   c.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func (c RouterConfig) operationLimit() func(http.Handler) http.Handler {
	if c.RateLimitRequests <= 0 {
		return noop
	}
	return httprate.Limit(
		c.RateLimitRequests,
		c.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, "TOO_MANY_REQUESTS", "too many backup requests", nil, nil)
		}),
	)
}

// NewRouter builds the HTTP handler tree.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cfg.corsHandler())

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chiMiddleware(middleware.PrometheusMetrics))

		r.Get("/ws", h.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware(middleware.Compression))
			r.Get("/health", h.Health)
			r.Get("/backup/status", h.BackupStatus)
			r.Get("/backup/exports", h.BackupListExports)
		})

		r.Get("/backup/exports/{name}", h.BackupDownloadExport)

		r.Group(func(r chi.Router) {
			r.Use(cfg.operationLimit())
			r.Post("/backup/export", h.BackupExport)
			r.Post("/backup/import", h.BackupImport)
			r.Post("/backup/restore-previous", h.BackupRestorePrevious)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no such endpoint", nil, nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil, nil)
	})

	return r
}
