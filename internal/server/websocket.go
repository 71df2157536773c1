package server

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/metrics"
	"github.com/fleetfuel/fleetfuel360/internal/models"
)

// WebSocket message types
const (
	MessageTypeAlert     = "alert"
	MessageTypeHeartbeat = "heartbeat"
)

// WSMessage is the envelope every alert-stream frame travels in.
type WSMessage struct {
	Type      string                  `json:"type"`
	Alerts    []models.Recommendation `json:"alerts,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// Hub fans advisories out to every connected alert subscriber. It is the
// scheduler's AlertSink.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan WSMessage
}

// NewHub creates the alert hub. Origins not in allowedOrigins are
// refused at the upgrade; "*" allows any origin.
func NewHub(log *zap.Logger, allowedOrigins []string) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		log:     log,
		clients: make(map[*wsClient]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowedOrigins)
		},
	}
	return h
}

// originAllowed checks the Origin header against the configured list.
// Requests without an Origin header (non-browser clients) are allowed.
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin || a == u.Host {
			return true
		}
	}
	return false
}

// handleAlertStream upgrades the connection and keeps it subscribed
// until the client goes away.
func (h *Hub) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan WSMessage, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WSConnectionsActive.Set(float64(n))
	h.log.Info("alert subscriber connected", zap.String("remote", conn.RemoteAddr().String()))

	go h.writePump(client)
	h.readPump(client)
}

// Broadcast sends advisories to every subscriber. Slow clients that
// cannot keep up are dropped rather than allowed to block the rest.
func (h *Hub) Broadcast(recs []models.Recommendation) {
	if len(recs) == 0 {
		return
	}
	msg := WSMessage{
		Type:      MessageTypeAlert,
		Alerts:    recs,
		Timestamp: time.Now().UTC(),
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
			metrics.WSAlertsBroadcast.Inc()
		default:
			h.log.Warn("dropping slow alert subscriber")
			h.remove(c)
		}
	}
}

// CloseAll disconnects every subscriber; used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]bool)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	metrics.WSConnectionsActive.Set(0)
}

// remove unregisters a client and closes its send channel once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	close(c.send)
	metrics.WSConnectionsActive.Set(float64(n))
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
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

// readPump discards inbound frames; the stream is one-way. It exists to
// notice disconnects and answer pings.
func (h *Hub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
