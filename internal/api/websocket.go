package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brokerpilot/core/internal/auth"
	"github.com/brokerpilot/core/internal/infrastructure/config"
	"github.com/brokerpilot/core/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	wsTypeSubscribe   = "subscribe"
	wsTypeUnsubscribe = "unsubscribe"
	wsTypePing        = "ping"
	wsTypePong        = "pong"
	wsTypeEvent       = "event"
	wsTypeResponse    = "response"
	wsTypeError       = "error"
)

// wsSendBuffer is the per-client outbound buffer. A client that falls this
// far behind starts losing events rather than stalling the broadcaster.
const wsSendBuffer = 64

// wsMessage is the frame exchanged with WebSocket clients.
type wsMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsChannels is the payload of subscribe/unsubscribe frames.
type wsChannels struct {
	Channels []string `json:"channels"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Every origin is accepted. The CORS middleware only sets response
	// headers and rejects no origin; the single-use ticket is what
	// authenticates the upgrade.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Hub fans broker-lifecycle events out to connected WebSocket clients.
// Events originate from the session.Manager callbacks wired in Server.Start:
// metric updates, broker connects, and connection-lost notifications.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub. Clients join via Server.handleWebSocket.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
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

// Broadcast delivers payload as an event frame to every client subscribed
// to channel. Slow clients are skipped, never waited on.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(wsMessage{
		Type:      wsTypeEvent,
		Event:     channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("marshalling broadcast frame", "error", err, "channel", channel)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.trySend(data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) join(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// leave detaches c. Only the goroutine that actually removes c from the
// set closes the send channel, so a read-pump exit racing hub shutdown
// cannot double-close.
func (h *Hub) leave(c *wsClient) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if present {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// handleWebSocket upgrades the connection after redeeming the single-use
// ticket minted at POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	role, ok := s.tickets.consume(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		subs: make(map[string]struct{}),
		role: role,
	}
	s.hub.join(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

// wsClient is one connected WebSocket session.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	role auth.Role

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best-effort deadline
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wait)) //nolint:errcheck // best-effort deadline
		c.handleFrame(frame)
	}
}

func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort close
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // best-effort deadline
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // best-effort deadline
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handleFrame(frame []byte) {
	var msg wsMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.reply("", wsTypeError, map[string]string{"message": "invalid JSON frame"})
		return
	}

	switch msg.Type {
	case wsTypeSubscribe:
		c.updateSubscriptions(msg, true)
	case wsTypeUnsubscribe:
		c.updateSubscriptions(msg, false)
	case wsTypePing:
		c.reply(msg.ID, wsTypePong, nil)
	default:
		c.reply(msg.ID, wsTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) updateSubscriptions(msg wsMessage, add bool) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		c.reply(msg.ID, wsTypeError, map[string]string{"message": "invalid payload"})
		return
	}
	var chans wsChannels
	if err := json.Unmarshal(raw, &chans); err != nil {
		c.reply(msg.ID, wsTypeError, map[string]string{"message": "invalid channels payload"})
		return
	}

	c.mu.Lock()
	for _, ch := range chans.Channels {
		if add {
			c.subs[ch] = struct{}{}
		} else {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
	}
	c.reply(msg.ID, wsTypeResponse, map[string]any{key: chans.Channels})
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(wsMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend drops the frame when the client's buffer is full or the channel
// closed mid-broadcast.
func (c *wsClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // absorbs send-on-closed-channel during teardown
	}()

	select {
	case c.send <- data:
	default:
	}
}
