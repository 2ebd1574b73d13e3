// Package realtime pushes committed balance changes to connected websocket
// clients, optionally fanned out across instances through Redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voltledger/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 16
)

type Message struct {
	Type string              `json:"type"`
	Data models.BalanceEvent `json:"data"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	admin  bool
	send   chan []byte
}

// Hub tracks websocket clients by user. Admin clients receive every event.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*client]struct{}
	admins   map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger, checkOrigin func(*http.Request) bool) *Hub {
	return &Hub{
		clients: make(map[int64]map[*client]struct{}),
		admins:  make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// ServeWS upgrades an already authenticated request and registers the
// connection for userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64, admin bool) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	c := &client{hub: h, conn: conn, userID: userID, admin: admin, send: make(chan []byte, sendBufferSize)}
	h.register(c)

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	if c.admin {
		h.admins[c] = struct{}{}
	}
	h.logger.Debug("websocket connected", zap.Int64("user_id", c.userID), zap.Bool("admin", c.admin))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
	delete(h.admins, c)
	close(c.send)
	h.logger.Debug("websocket disconnected", zap.Int64("user_id", c.userID))
}

// Clients returns the number of open connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

// Deliver writes ev to the owner's connections and to every admin.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Deliver(ev models.BalanceEvent) {
	payload, err := json.Marshal(Message{Type: "balance_update", Data: ev})
	if err != nil {
		h.logger.Error("failed to marshal balance event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make(map[*client]struct{}, len(h.admins)+len(h.clients[ev.UserID]))
	for c := range h.clients[ev.UserID] {
		targets[c] = struct{}{}
	}
	for c := range h.admins {
		targets[c] = struct{}{}
	}
	for c := range targets {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("websocket send buffer full", zap.Int64("user_id", c.userID))
		}
	}
}

// BalanceChanged delivers to clients of this process only.
func (h *Hub) BalanceChanged(_ context.Context, ev models.BalanceEvent) {
	h.Deliver(ev)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0)
	for _, set := range h.clients {
		for c := range set {
			conns = append(conns, c.conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

// readPump only drains control frames; clients do not send commands.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
