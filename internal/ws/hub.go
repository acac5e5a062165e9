// Package ws broadcasts the marketplace's domain-event stream to WebSocket
// observers such as the browsing UI or an external indexer.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vantagedata/datamarket/internal/events"
	"github.com/vantagedata/datamarket/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 64
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected event feed subscriber.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans domain events out to connected clients. Events arrive from the
// in-process bus, so clients only ever see committed mutations.
type Hub struct {
	logger     *zap.Logger
	bus        *events.Bus
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
}

// NewHub creates an event feed hub attached to the bus.
func NewHub(logger *zap.Logger, bus *events.Bus) *Hub {
	return &Hub{
		logger:     logger,
		bus:        bus,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run pumps bus events to clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	feed, cancel := h.bus.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			metrics.WSConnections.Inc()
		case client := <-h.unregister:
			h.drop(client)
		case env, ok := <-feed:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(env)
		}
	}
}

func (h *Hub) broadcast(env events.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", env.Type), zap.Error(err))
		return
	}
	metrics.WSEventsBroadcast.Inc()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow client: disconnect rather than block the feed.
			delete(h.clients, client)
			close(client.send)
			metrics.WSConnections.Dec()
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WSConnections.Dec()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		metrics.WSConnections.Dec()
	}
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.register <- client

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound frames; the feed is one-way. It exists to
// detect client disconnects.
func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
