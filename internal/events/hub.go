package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vigil-iam/vigil/backend/internal/logger"
	"github.com/vigil-iam/vigil/backend/internal/metrics"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is served behind the same origin as the console.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	conn  *websocket.Conn
	types map[string]struct{}
	mu    sync.Mutex
	done  chan struct{}
	once  sync.Once
}

func (c *client) wants(eventType string) bool {
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub broadcasts events to connected WebSocket clients.
type Hub struct {
	mu                sync.RWMutex
	clients           map[*client]struct{}
	keepAliveInterval time.Duration
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithKeepAliveInterval sets the ping interval. Zero disables pings.
func WithKeepAliveInterval(d time.Duration) HubOption {
	return func(h *Hub) { h.keepAliveInterval = d }
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:           make(map[*client]struct{}),
		keepAliveInterval: 30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ServeWS upgrades the request and registers the connection. The optional
// "types" query parameter (repeatable) limits delivered event types.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log().WithError(err).Warn("websocket upgrade failed")
		return
	}
	types := make(map[string]struct{})
	for _, t := range r.URL.Query()["types"] {
		if t != "" {
			types[t] = struct{}{}
		}
	}
	c := &client{conn: conn, types: types, done: make(chan struct{})}
	h.register(c)
	go h.keepAlive(c)
	h.readLoop(c)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetEventClients(n)
	logger.Log().WithField("clients", n).Debug("event subscriber connected")
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		metrics.SetEventClients(n)
		logger.Log().WithField("clients", n).Debug("event subscriber disconnected")
	}
}

// readLoop drains client frames so control messages are processed and
// returns when the peer goes away.
func (h *Hub) readLoop(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) keepAlive(c *client) {
	if h.keepAliveInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// Publish sends the event to every subscribed client. Clients that fail to
// receive it are dropped.
func (h *Hub) Publish(_ context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(evt.Type) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.unregister(c)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
	metrics.SetEventClients(0)
}
