// internal/notify/manager.go
package notify

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/metrics"
)

// Client is one attached connection. Payloads queue on an outbound channel
// drained by a single writer goroutine in the transport layer, which
// preserves per-recipient ordering.
type Client struct {
	ConnID string

	mu      sync.Mutex
	out     chan map[string]any
	closed  bool
	closeFn func()
}

// Outbound is the payload queue the transport's writer goroutine drains.
// The channel closes when the client is closed.
func (c *Client) Outbound() <-chan map[string]any {
	return c.out
}

// Write pushes a payload onto the client's queue without blocking. A full or
// closed queue drops the payload; the client resyncs via the turn snapshot.
func (c *Client) Write(logger *logrus.Logger, payload map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- payload:
	default:
		msgType, _ := payload["type"].(string)
		logger.WithFields(logrus.Fields{
			"conn_id": c.ConnID,
			"type":    msgType,
		}).Warn("outbound queue full, dropping payload")
	}
}

// Close shuts the queue and the underlying socket at most once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Manager maps conn ids to attached clients. Only the transport adapter
// mutates the map.
type Manager struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  *logrus.Logger
}

// NewManager builds an empty connection registry.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Attach registers a live connection under connID. closeFn closes the
// underlying socket; it is invoked by CloseConn (e.g. on kick). A previous
// client under the same id is closed and replaced.
func (m *Manager) Attach(connID string, closeFn func()) *Client {
	client := &Client{
		ConnID:  connID,
		out:     make(chan map[string]any, 32),
		closeFn: closeFn,
	}
	m.mu.Lock()
	old := m.clients[connID]
	m.clients[connID] = client
	m.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return client
}

// Detach removes the client, but only if it is still the registered one:
// a reconnect may have replaced it already.
func (m *Manager) Detach(client *Client) {
	m.mu.Lock()
	if current, ok := m.clients[client.ConnID]; ok && current == client {
		delete(m.clients, client.ConnID)
	}
	m.mu.Unlock()
	client.Close()
}

func (m *Manager) lookup(connID string) *Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[connID]
}

// SendToConn delivers one payload to a single connection; no-op if the
// connection is not attached.
func (m *Manager) SendToConn(_ context.Context, connID string, payload map[string]any) {
	if client := m.lookup(connID); client != nil {
		client.Write(m.logger, payload)
		metrics.PayloadsSent.Inc()
	}
}

// Broadcast delivers the payload to every listed connection, skipping
// unknown ids.
func (m *Manager) Broadcast(ctx context.Context, connIDs []string, payload map[string]any) {
	for _, connID := range connIDs {
		m.SendToConn(ctx, connID, payload)
	}
}

// CloseConn closes the socket underlying connID if attached.
func (m *Manager) CloseConn(_ context.Context, connID string) {
	m.mu.Lock()
	client := m.clients[connID]
	delete(m.clients, connID)
	m.mu.Unlock()
	if client != nil {
		client.Close()
	}
}
