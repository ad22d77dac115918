package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"noticeboard/internal/middleware"
	"noticeboard/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections watching one path
	maxConnsPerPath = 1000
	// Max total connections
	maxTotalConns = 10000
)

var (
	errServerFull = errors.New("server connection limit reached")
	errPathFull   = errors.New("path connection limit reached")
)

// LiveHub maps a watched view path to the websocket clients watching it.
type LiveHub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
}

// NewLiveHub creates an empty hub.
func NewLiveHub() *LiveHub {
	return &LiveHub{conns: make(map[string]map[*Client]struct{})}
}

// Name returns a human-readable identifier for this hub.
func (h *LiveHub) Name() string { return "live hub" }

// Register a connection watching path. Returns the Client or error if limits exceeded.
func (h *LiveHub) Register(path string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errServerFull
	}

	m, ok := h.conns[path]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[path] = m
	}
	if len(m) >= maxConnsPerPath {
		return nil, errPathFull
	}

	client := NewClient(h, conn, path)
	m[client] = struct{}{}
	h.totalConns++
	observability.LiveConnections.Inc()
	return client, nil
}

// UnregisterClient removes client; calling it twice is harmless.
func (h *LiveHub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.Key]
	if !ok {
		return
	}
	if _, exists := m[client]; exists {
		delete(m, client)
		h.totalConns--
		observability.LiveConnections.Dec()
	}
	if len(m) == 0 {
		delete(h.conns, client.Key)
	}
}

// Watchers returns the number of clients watching path.
func (h *LiveHub) Watchers(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[path])
}

// Broadcast sends message to all connections watching path.
func (h *LiveHub) Broadcast(path string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns[path] {
		c.TrySend(message)
	}
}

// Deliver forwards a stale-view event to the clients watching its path.
func (h *LiveHub) Deliver(ev StaleEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.Broadcast(ev.Path, payload)
}

// StartWiring connects the Notifier to this hub so events published by any
// server instance reach local watchers.
func (h *LiveHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartStaleSubscriber(ctx, h.Deliver)
}

// Shutdown gracefully closes all websocket connections
func (h *LiveHub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for path, clients := range h.conns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				middleware.Logger.Warn("failed to write close message", slog.String("path", path), slog.String("error", err.Error()))
			}
			if err := client.Conn.Close(); err != nil {
				middleware.Logger.Warn("failed to close websocket", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
	observability.LiveConnections.Sub(float64(h.totalConns))
	h.conns = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
