// Package liveview serves the universes to browsers over websocket and a
// small JSON API with the health endpoint.
package liveview

import (
	"context"
	"net/http"
	"sync"
	"time"

	"dmxd/internal/engine"
	"dmxd/internal/logger"
	"github.com/gorilla/websocket"
)

// Frame tags: one tag byte followed by the 512 channel values.
const (
	TagInput  = '1'
	TagOutput = '2'
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeWait      = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub broadcasts universe frames to websocket clients.
type Hub struct {
	log     logger.Logger
	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub конструктор.
func NewHub(log logger.Logger) *Hub {
	return &Hub{log: log, clients: map[*client]struct{}{}}
}

// Frame encodes a universe snapshot for the websocket.
func Frame(kind engine.Kind, u engine.Universe) []byte {
	frame := make([]byte, 1+engine.Channels)
	frame[0] = TagOutput
	if kind == engine.Input {
		frame[0] = TagInput
	}
	copy(frame[1:], u[:])
	return frame
}

// Publish implements engine.Observer. Slow clients miss frames.
func (h *Hub) Publish(kind engine.Kind, u engine.Universe) {
	frame := Frame(kind, u)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(frame)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run blocks until ctx is cancelled and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.With(logger.Fields{"module": "liveview"}).Errorf("websocket upgrade failed: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.With(logger.Fields{"module": "liveview", "clients": h.ClientCount()}).Debug("websocket client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.log.With(logger.Fields{"module": "liveview", "clients": h.ClientCount()}).Debug("websocket client disconnected")
}

func (c *client) trySend(frame []byte) {
	select {
	case c.send <- frame:
	default:
	}
}

// readPump only watches for the close; clients have nothing to say.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + writeWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
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
