package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024
	refreshPeriod  = 2 * time.Second
)

// WSMessage is pushed to every connected dashboard
type WSMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Data      any    `json:"data,omitempty"`
}

type Client struct {
	id   string
	conn *websocket.Conn
	send chan WSMessage
	hub  *Hub

	closeOnce sync.Once
}

// Hub fans approval updates out to websocket clients.
type Hub struct {
	store approval.Store

	mu      sync.RWMutex
	clients map[*Client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(store approval.Store) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:   store,
		clients: make(map[*Client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.wg.Add(1)
	go h.watchStore()

	return h
}

// Shutdown disconnects every client and stops the store watcher.
func (h *Hub) Shutdown() {
	h.cancel()
	h.wg.Wait()

	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		client.close()
	}
	h.mu.Unlock()

	log.Info().Msg("websocket hub stopped")
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastResolution tells clients that a request left PENDING.
func (h *Hub) BroadcastResolution(req approval.Request) {
	h.broadcast(WSMessage{
		Type:      "approval_update",
		RequestID: req.ID,
		Status:    string(req.Status),
		Data:      req,
	})
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	log.Info().Str("client_id", c.id).Int("total", total).Msg("client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		log.Info().Str("client_id", c.id).Int("total", total).Msg("client disconnected")
	}
}

func (h *Hub) broadcast(msg WSMessage) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		log.Warn().Str("client_id", client.id).Msg("client too slow, disconnecting")
		h.unregister(client)
	}
}

func (h *Hub) watchStore() {
	defer h.wg.Done()

	notifyCh := h.store.NotifyChannel()
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case _, ok := <-notifyCh:
			if !ok {
				return
			}
			h.broadcastSnapshot()
		case <-ticker.C:
			// catch changes coalesced away by the notify channel
			h.broadcastSnapshot()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) broadcastSnapshot() {
	if h.ClientCount() == 0 {
		return
	}
	if msg, ok := h.snapshot(); ok {
		h.broadcast(msg)
	}
}

func (h *Hub) snapshot() (WSMessage, bool) {
	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()

	pending, err := h.store.List(ctx, approval.ListFilter{Status: approval.StatusPending})
	if err != nil {
		log.Warn().Err(err).Msg("failed to list pending requests for broadcast")
		return WSMessage{}, false
	}

	return WSMessage{
		Type: "approval_snapshot",
		Data: map[string]any{
			"total":   len(pending),
			"pending": pending,
		},
	}, true
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
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

type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, allowedOrigins []string) *WSHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// HandleWebSocket handles GET /v1/ws
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return nil
	}

	client := &Client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan WSMessage, 64),
		hub:  h.hub,
	}

	if msg, ok := h.hub.snapshot(); ok {
		client.send <- msg
	}
	h.hub.register(client)

	go client.writePump()
	go client.readPump()

	return nil
}
