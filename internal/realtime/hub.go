package realtime

import (
	"sync"

	"github.com/astanek/livechat-relay/internal/session"
	"github.com/astanek/livechat-relay/pkg/logger"
)

// Hub tracks live connections and implements the relay's
// RealtimeTransport capability. Role resolution is delegated to the
// session registry; the hub only knows sockets.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	registry *session.Registry
	log      logger.Logger
}

// NewHub creates an empty hub bound to the given registry.
func NewHub(registry *session.Registry, log logger.Logger) *Hub {
	return &Hub{
		conns:    make(map[string]*Connection),
		registry: registry,
		log:      log,
	}
}

// Add starts tracking a connection.
func (h *Hub) Add(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Remove stops tracking a connection. Idempotent.
func (h *Hub) Remove(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if tracked, ok := h.conns[c.ID()]; ok && tracked == c {
		delete(h.conns, c.ID())
	}
}

func (h *Hub) get(connID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Len returns the number of tracked connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendToAdmin delivers a chat message to the admin connection, if one is
// registered and still tracked.
func (h *Hub) SendToAdmin(text string) bool {
	adminID, ok := h.registry.AdminConn()
	if !ok {
		return false
	}
	c, ok := h.get(adminID)
	if !ok {
		return false
	}
	if err := c.SendEvent(EventChat, text); err != nil {
		h.log.Warn("Admin delivery failed",
			logger.StringField("conn_id", adminID),
			logger.ErrorField(err))
		return false
	}
	return true
}

// BroadcastToVisitors delivers a chat message to every visitor connection
// and returns the number of successful deliveries.
func (h *Hub) BroadcastToVisitors(text string) int {
	delivered := 0
	for _, connID := range h.registry.VisitorConns() {
		c, ok := h.get(connID)
		if !ok {
			continue
		}
		if err := c.SendEvent(EventChat, text); err != nil {
			h.log.Warn("Visitor delivery failed",
				logger.StringField("conn_id", connID),
				logger.ErrorField(err))
			continue
		}
		delivered++
	}
	return delivered
}

// SendVisitorID informs one connection of its generated visitor id.
func (h *Hub) SendVisitorID(connID, visitorID string) error {
	c, ok := h.get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return c.SendEvent(EventVisitorID, visitorID)
}

// SendSystem delivers status text to one connection.
func (h *Hub) SendSystem(connID, text string) error {
	c, ok := h.get(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return c.SendEvent(EventSystem, text)
}

// CloseAll closes every tracked connection, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
