// Package ws is the socket layer attached to the HTTP server: connection
// bookkeeping and presence broadcasts. Chat message delivery is not handled
// here.
package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 16

// Client represents a connected WebSocket client.
type Client struct {
	id     string
	conn   *websocket.Conn
	userID string
	send   chan Message
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, userID string, logger *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		conn:   conn,
		userID: userID,
		send:   make(chan Message, sendBuffer),
		logger: logger.With(zap.String("conn_id", id), zap.String("user_id", userID)),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Hub tracks active connections and which users are online. A user with
// several tabs open counts once.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	online  map[string]int
	logger  *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		online:  make(map[string]int),
		logger:  logger,
	}
}

// Register adds a client and broadcasts the updated presence list.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.online[c.userID]++
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", zap.String("conn_id", c.id), zap.String("user_id", c.userID))
	h.broadcastPresence()
}

// Unregister removes a client, closes its send channel and broadcasts the
// updated presence list. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	if h.online[c.userID]--; h.online[c.userID] <= 0 {
		delete(h.online, c.userID)
	}
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", zap.String("conn_id", c.id), zap.String("user_id", c.userID))
	h.broadcastPresence()
}

// Broadcast sends a message to all connected clients. Clients whose buffer
// is full miss the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full, dropping message",
				zap.String("conn_id", c.id))
		}
	}
}

// OnlineUsers returns the sorted IDs of users with at least one connection.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.online))
	for id := range h.online {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every connection with StatusGoingAway. Used on shutdown,
// since http.Server.Shutdown does not touch hijacked connections.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) broadcastPresence() {
	h.Broadcast(Message{Type: MessageOnlineUsers, UserIDs: h.OnlineUsers()})
}

// writePump sends messages from the client's send channel to the WebSocket.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				// Channel closed by hub (unregister).
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains client frames until the connection closes. Clients are
// not expected to send anything on this socket.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
