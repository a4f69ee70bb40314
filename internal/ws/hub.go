// Package ws is the realtime layer: a websocket hub that fans deposit events
// out to subscribed clients and drives the monitor registry from session
// connect/disconnect lifecycle.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/quantex-io/depositwatch/internal/metrics"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/monitor"
)

// SessionManager is the monitor-lifecycle contract the hub invokes on
// subscribe and disconnect.
type SessionManager interface {
	Acquire(ctx context.Context, sessionKey string, params models.MonitorParams) (monitor.Monitor, error)
	Release(sessionKey string)
}

// Envelope is the wire frame for hub broadcasts.
type Envelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// Hub manages fan-out broadcasting to connected websocket clients.
type Hub struct {
	sessions SessionManager

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a websocket hub driving the given session manager.
func NewHub(sessions SessionManager) *Hub {
	slog.Info("websocket hub created")
	return &Hub{
		sessions: sessions,
		clients:  make(map[*Client]struct{}),
	}
}

// register adds a connected client.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.Subscribers.Inc()
	slog.Info("websocket client connected",
		"sessionKey", c.sessionKey,
		"totalClients", count,
	)
}

// unregister removes a client and releases its monitor session.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}

	metrics.Subscribers.Dec()
	h.sessions.Release(c.sessionKey)
	slog.Info("websocket client disconnected",
		"sessionKey", c.sessionKey,
		"totalClients", count,
	)
}

// Broadcast sends a payload on a topic to clients matching the user filter.
// An empty userID matches every client. Fire-and-forget: slow clients drop
// the frame rather than blocking the caller.
func (h *Hub) Broadcast(topic, userID string, payload any) {
	frame, err := json.Marshal(Envelope{Topic: topic, Data: payload})
	if err != nil {
		slog.Error("failed to marshal broadcast frame", "topic", topic, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if userID != "" && c.sessionKey != userID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slog.Warn("broadcast frame dropped for slow client",
				"sessionKey", c.sessionKey,
				"topic", topic,
			)
		}
	}
}

// SubscriberCount returns the number of connected clients. Gates the
// verification sweeper.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every client connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}

	slog.Info("websocket hub shut down", "closedClients", len(clients))
}
