package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aaronlmathis/pingplot/internal/metrics"
	"github.com/aaronlmathis/pingplot/internal/timeseries"
)

// Hub maintains the set of active stream clients and broadcasts messages to them
type Hub struct {
	logger *zap.Logger

	// Registered clients
	clients map[*Client]bool

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Mutex for thread-safety
	mu sync.RWMutex

	// Shared with the series store so the client limit shows up in health
	health *timeseries.HealthMetrics

	// Connection limits
	maxConnections int
}

// Client represents a WebSocket client
type Client struct {
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Client identifier
	id string

	// Guards send against a close racing a broadcast
	sendMu sync.Mutex
	closed bool
}

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Outbound messages queued per client before it is dropped
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow connections from any origin
		return true
	},
}

// NewHub creates a new WebSocket hub. health may be nil.
func NewHub(logger *zap.Logger, health *timeseries.HealthMetrics, maxConnections int) *Hub {
	if maxConnections <= 0 {
		maxConnections = timeseries.DefaultConfig().MaxWSClients
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		logger:         logger,
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		clients:        make(map[*Client]bool),
		ctx:            ctx,
		cancel:         cancel,
		health:         health,
		maxConnections: maxConnections,
	}
}

// Run starts the hub
func (h *Hub) Run() {
	defer h.cancel()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.updateCountLocked()
			h.mu.Unlock()

			metrics.RecordWebSocketConnection()
			h.logger.Info("Client registered", zap.String("id", client.id))

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Info("Client unregistered", zap.String("id", client.id))
		}
	}
}

// Broadcast sends a message to every connected client. Clients whose send
// buffer is full are dropped.
func (h *Hub) Broadcast(messageType string, data interface{}) {
	msgBytes, err := encode(messageType, data)
	if err != nil {
		h.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	dropped := 0
	for _, client := range targets {
		if !client.enqueue(msgBytes) {
			h.logger.Warn("Removing unresponsive WebSocket client", zap.String("clientId", client.id))
			h.removeClient(client)
			dropped++
		}
	}

	if dropped > 0 {
		h.logger.Info("WebSocket broadcast completed with dropped clients",
			zap.Int("sent", len(targets)-dropped),
			zap.Int("dropped", dropped))
	}
}

// Publish broadcasts the value returned by source every interval while at
// least one client is connected. It returns when ctx is done or the hub stops.
func (h *Hub) Publish(ctx context.Context, messageType string, interval time.Duration, source func() interface{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.Broadcast(messageType, source())
		}
	}
}

// removeClient safely removes a client from the hub
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *Client) {
	if _, exists := h.clients[client]; !exists {
		return
	}
	delete(h.clients, client)
	client.closeSend()
	h.updateCountLocked()
	metrics.RecordWebSocketDisconnection()
}

func (h *Hub) updateCountLocked() {
	if h.health != nil {
		h.health.SetWSClientCount(int64(len(h.clients)))
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and registers a stream client. initial, when
// non-nil, is sent as the first message of type messageType.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, messageType string, initial interface{}) {
	if count := h.ClientCount(); count >= h.maxConnections || (h.health != nil && !h.health.CheckWSClientLimit()) {
		h.logger.Warn("WebSocket connection rejected - connection limit reached",
			zap.Int("current", count),
			zap.Int("limit", h.maxConnections))
		http.Error(w, "Connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		id:   uuid.NewString(),
	}

	if initial != nil {
		if msg, err := encode(messageType, initial); err == nil {
			client.send <- msg
		}
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines
	go client.writePump()
	go client.readPump()
}

func encode(messageType string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Type: messageType, Data: data})
}

// enqueue queues a message without blocking. It reports false when the
// client's buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("Unexpected WebSocket close", zap.Error(err))
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection, one
// JSON document per frame
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
