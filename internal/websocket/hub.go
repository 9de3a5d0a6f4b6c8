// Waypoint - Local-First Progress Tracking and Award Evaluation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waypoint

package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/waypoint/internal/logging"
	"github.com/tomtom215/waypoint/internal/metrics"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types sent to clients.
const (
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeAwardGranted  = "award_granted"
	MessageTypeAwardProgress = "award_progress"
	MessageTypeProgressSaved = "progress_saved"
	MessageTypeSyncCompleted = "sync_completed"
)

const defaultBroadcastQueueSize = 256

// Message is the envelope written to every client.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an idle hub. RunWithContext must be running for
// registration and broadcasts to be processed.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, defaultBroadcastQueueSize),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext processes registrations and broadcasts until ctx is
// cancelled, then closes every client and returns ctx.Err().
//
// Cancellation is checked first and lifecycle events are drained before
// broadcasts, so a client registered before a message always receives it.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("WebSocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(n))
	logging.Info().Uint64("client_id", client.id).Int("total_clients", n).Msg("WebSocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	closed := h.closeAllClients()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(reason)).
		Int("clients_closed", closed).
		Msg("WebSocket hub stopped")
}

// sortedClients returns clients in connection order. Caller holds h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// broadcastToClients drops clients whose send buffer is full rather than
// blocking the hub on a slow reader.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	var dropped int
	for _, client := range h.sortedClients() {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			dropped++
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WSMessagesSent.WithLabelValues(message.Type).Inc()
	if dropped > 0 {
		metrics.WSConnections.Set(float64(n))
		logging.Warn().Int("dropped_clients", dropped).Str("message_type", message.Type).Msg("Dropped slow WebSocket clients")
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedClients()
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	metrics.WSConnections.Set(0)
	return len(clients)
}

// Broadcast queues a message for every connected client. It never blocks;
// when the queue is full the message is dropped and false is returned.
func (h *Hub) Broadcast(messageType string, data interface{}) bool {
	select {
	case h.broadcast <- Message{Type: messageType, Data: data}:
		return true
	default:
		logging.Warn().Str("message_type", messageType).Msg("Broadcast queue full, dropping WebSocket message")
		return false
	}
}

// SyncCompletedData is the payload of a sync_completed message.
type SyncCompletedData struct {
	Timestamp  string `json:"timestamp"`
	DurationMs int64  `json:"duration_ms"`
	Reachable  bool   `json:"reachable"`
}

// BroadcastSyncCompleted tells clients a sync cycle finished so they can
// re-read local state.
func (h *Hub) BroadcastSyncCompleted(duration time.Duration, reachable bool) {
	h.Broadcast(MessageTypeSyncCompleted, SyncCompletedData{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		DurationMs: duration.Milliseconds(),
		Reachable:  reachable,
	})
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
