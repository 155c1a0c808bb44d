// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
	ws "github.com/tomtom215/platebook/internal/websocket"
)

// HealthStatus is returned by /api/v1/health.
type HealthStatus struct {
	Status    string           `json:"status"`
	Version   string           `json:"version"`
	Operation backup.Operation `json:"operation,omitempty"`
	Clients   int              `json:"websocketClients"`
	Uptime    float64          `json:"uptimeSeconds"`
}

// Health reports liveness and what the engine is doing.
// GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Version:   h.opts.Version,
		Operation: h.engine.Active(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}
	if h.hub != nil {
		health.Clients = h.hub.GetClientCount()
	}
	respondJSON(w, r, http.StatusOK, health)
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkWebSocketOrigin accepts same-host origins and configured ones.
// Browsers always send Origin on WebSocket upgrades, so a missing one is
// rejected.
func (h *Handler) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	if origin == "http://"+r.Host || origin == "https://"+r.Host {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeLogValue(origin)).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// WebSocket upgrades to the progress stream.
// GET /api/v1/ws
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "WebSocket service unavailable", nil, nil)
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
