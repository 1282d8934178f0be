package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"silkworm-dashboard/internal/services"
)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Message types pushed to the dashboard.
const (
	MsgWelcome       = "WELCOME"
	MsgPing          = "PING"
	MsgPong          = "PONG"
	MsgProgress      = "PROGRESS"
	MsgBatchComplete = "BATCH_COMPLETE"
	MsgBatchFailed   = "BATCH_FAILED"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

type wsClient struct {
	conn      *websocket.Conn
	clientID  string
	sessionID string
	send      chan WebSocketMessage
}

// Hub fans progress messages out to the WebSocket clients of a session.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool

	upgrader websocket.Upgrader
	metrics  *services.Metrics
	logger   *zap.SugaredLogger
}

func NewHub(metrics *services.Metrics, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues msg for every client of sessionID. Slow clients drop messages.
func (h *Hub) Publish(sessionID string, msg WebSocketMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.sessionID == sessionID {
			h.enqueue(c, msg)
		}
	}
}

// sendTo queues msg for one client if it is still registered.
func (h *Hub) sendTo(c *wsClient, msg WebSocketMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if existing, ok := h.clients[c.clientID]; ok && existing == c {
		h.enqueue(c, msg)
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *wsClient, msg WebSocketMessage) {
	select {
	case c.send <- msg:
		h.metrics.IncrementWebSocketMessages()
	default:
		h.logger.Warnw("dropping websocket message", "client", c.clientID, "type", msg.Type)
	}
}

// Serve upgrades the request and pumps messages until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("websocket upgrade failed: %v", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = "client-" + uuid.NewString()
	}
	client := &wsClient{
		conn:      conn,
		clientID:  clientID,
		sessionID: sessionID,
		send:      make(chan WebSocketMessage, sendBuffer),
	}
	if !h.register(client) {
		conn.Close()
		return
	}
	h.logger.Infof("WebSocket client connected: %s", client.clientID)

	h.sendTo(client, WebSocketMessage{
		Type:     MsgWelcome,
		ClientID: client.clientID,
		Payload: map[string]interface{}{
			"message": "Connected to Silkworm Detection Dashboard",
			"session": sessionID,
		},
	})

	go h.writePump(client)
	h.readPump(client)

	h.unregister(client)
	h.logger.Infof("WebSocket client disconnected: %s", client.clientID)
}

func (h *Hub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, taken := h.clients[c.clientID]; taken {
		c.clientID += "-" + uuid.NewString()[:8]
	}
	h.clients[c.clientID] = c
	h.metrics.IncrementWebSocketConnections()
	return true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.clients[c.clientID]; ok && existing == c {
		delete(h.clients, c.clientID)
		close(c.send)
		h.metrics.DecrementWebSocketConnections()
	}
}

func (h *Hub) readPump(c *wsClient) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg WebSocketMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warnf("WebSocket error for %s: %v", c.clientID, err)
				h.metrics.IncrementWebSocketErrors()
			}
			return
		}

		switch msg.Type {
		case MsgPing:
			h.sendTo(c, WebSocketMessage{Type: MsgPong, ClientID: c.clientID})
		default:
			h.logger.Debugf("Unknown message type from %s: %s", c.clientID, msg.Type)
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				h.metrics.IncrementWebSocketErrors()
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

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
		h.metrics.DecrementWebSocketConnections()
		h.logger.Debugf("Closed connection for client: %s", id)
	}
	return nil
}
