// Platebook - Restaurant, Dish and Visit Tracker
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/platebook

// Package websocket pushes backup progress to connected settings screens.
//
// The Hub owns the client set and a buffered broadcast channel. Producers
// never block: when the channel is full a message is dropped and logged.
// A client that cannot keep up is disconnected rather than slowing others.
//
// Late joiners receive the most recent progress message on connect, so a
// screen opened halfway through an import shows where it is.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/platebook/internal/backup"
	"github.com/tomtom215/platebook/internal/logging"
	"github.com/tomtom215/platebook/internal/metrics"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeBackupProgress  = "backup_progress"
	MessageTypeBackupCompleted = "backup_completed"
	MessageTypeBackupFailed    = "backup_failed"
)

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// OperationResult is the payload of backup_completed and backup_failed.
type OperationResult struct {
	Operation backup.Operation `json:"operation"`
	Timestamp string           `json:"timestamp"`
	Result    interface{}      `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`

	// RestartRequired tells the UI to reload after an import or restore.
	RestartRequired bool `json:"restartRequired,omitempty"`
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	// lastProgress is the last progress of a running operation that was
	// delivered. Only the Run goroutine touches it, so a late joiner's
	// replay is never newer than what is still queued behind it.
	lastProgress *Message
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub until ctx is done, then closes every client
// and returns ctx.Err().
//
// Lifecycle events are drained before broadcasts so a client registered
// just before a message always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Inc()

	if h.lastProgress != nil {
		select {
		case client.send <- *h.lastProgress:
		default:
		}
	}

	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WSConnections.Dec()
	}
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs why. ctx.Err() is not
// logged as an error: cancellation is the normal way to stop.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients in ID order. Callers hold h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients sends message to every client in ID order and drops
// clients whose send buffer is full.
func (h *Hub) broadcastToClients(message Message) {
	h.rememberProgress(message)

	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
		logging.Warn().Uint64("client_id", client.id).Msg("websocket client too slow, disconnected")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		close(client.send)
		delete(h.clients, client)
		metrics.WSConnections.Dec()
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(message Message) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
		return false
	}
}

// BroadcastJSON sends an arbitrary message to all connected clients.
func (h *Hub) BroadcastJSON(messageType string, data interface{}) {
	h.enqueue(Message{Type: messageType, Data: data})
}

// BroadcastProgress forwards one progress notification. It has the shape
// of a backup.ProgressFunc so it can be installed as the engine's observer.
func (h *Hub) BroadcastProgress(p backup.Progress) {
	message := Message{Type: MessageTypeBackupProgress, Data: p}
	if h.enqueue(message) {
		logging.Debug().
			Str("operation", string(p.Operation)).
			Str("state", string(p.State)).
			Int("percent", p.Percent).
			Msg("broadcast backup_progress")
	}
}

// rememberProgress keeps message for late joiners while its operation runs.
func (h *Hub) rememberProgress(message Message) {
	p, ok := message.Data.(backup.Progress)
	if message.Type != MessageTypeBackupProgress || !ok {
		return
	}
	switch p.State {
	case backup.StateDone, backup.StateFailed, backup.StateRolledBack:
		h.lastProgress = nil
	default:
		h.lastProgress = &message
	}
}

// BroadcastCompleted announces a finished operation and its result.
func (h *Hub) BroadcastCompleted(op backup.Operation, result interface{}, restartRequired bool) {
	h.enqueue(Message{Type: MessageTypeBackupCompleted, Data: OperationResult{
		Operation:       op,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Result:          result,
		RestartRequired: restartRequired,
	}})
}

// BroadcastFailed announces a failed operation.
func (h *Hub) BroadcastFailed(op backup.Operation, err error) {
	h.enqueue(Message{Type: MessageTypeBackupFailed, Data: OperationResult{
		Operation: op,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     err.Error(),
	}})
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
