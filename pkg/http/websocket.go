package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"grit-server/pkg/metrics"
	"grit-server/pkg/telemetry"
)

// ScoreMessage is one websocket frame pushed to session subscribers.
type ScoreMessage struct {
	SessionID string                  `json:"session_id"`
	Scores    []telemetry.ScorePacket `json:"scores"`
	Closed    bool                    `json:"closed,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// wsClient is one connected subscriber.
type wsClient struct {
	hub       *ScoreHub
	conn      *websocket.Conn
	send      chan []byte
	logger    *logrus.Logger
	sessionID string
}

// ScoreHub fans freshly computed scores out to websocket subscribers of
// a session. Delivery is best-effort: a subscriber that cannot keep up
// is dropped rather than allowed to stall the hub.
type ScoreHub struct {
	logger      *logrus.Logger
	subscribers map[string]map[*wsClient]bool
	broadcast   chan *ScoreMessage
	register    chan *wsClient
	unregister  chan *wsClient
	mutex       sync.RWMutex
}

var scoreUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewScoreHub creates an idle hub. Call Run to start it.
func NewScoreHub(logger *logrus.Logger) *ScoreHub {
	return &ScoreHub{
		logger:      logger,
		subscribers: make(map[string]map[*wsClient]bool),
		broadcast:   make(chan *ScoreMessage, 64),
		register:    make(chan *wsClient),
		unregister:  make(chan *wsClient),
	}
}

// Run processes hub events until the context is cancelled.
func (h *ScoreHub) Run(ctx context.Context) {
	h.logger.Info("Starting websocket score hub")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Shutting down websocket score hub")
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			if _, exists := h.subscribers[client.sessionID]; !exists {
				h.subscribers[client.sessionID] = make(map[*wsClient]bool)
			}
			h.subscribers[client.sessionID][client] = true
			h.mutex.Unlock()
			h.logger.WithField("session_id", client.sessionID).Info("Subscriber connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.removeLocked(client)
			h.mutex.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.WithError(err).Error("Failed to marshal score message")
				continue
			}

			h.mutex.Lock()
			delivered := 0
			for client := range h.subscribers[message.SessionID] {
				select {
				case client.send <- data:
					delivered++
				default:
					// Slow subscriber, drop it.
					h.removeLocked(client)
				}
			}
			h.mutex.Unlock()
			if delivered > 0 {
				metrics.RecordBroadcast(delivered)
			}
		}
	}
}

// BroadcastScores queues a score batch for the session's subscribers.
// Never blocks the caller; under hub backpressure the batch is skipped.
func (h *ScoreHub) BroadcastScores(sessionID string, scores []telemetry.ScorePacket) {
	message := &ScoreMessage{
		SessionID: sessionID,
		Scores:    scores,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- message:
	default:
		h.logger.WithField("session_id", sessionID).Warn("Score hub saturated, skipping broadcast")
	}
}

// CloseSession notifies subscribers the session ended and disconnects
// them.
func (h *ScoreHub) CloseSession(sessionID string) {
	message := &ScoreMessage{
		SessionID: sessionID,
		Closed:    true,
		Timestamp: time.Now(),
	}
	data, _ := json.Marshal(message)

	h.mutex.Lock()
	for client := range h.subscribers[sessionID] {
		select {
		case client.send <- data:
		default:
		}
		h.removeLocked(client)
	}
	h.mutex.Unlock()
}

// SubscriberCount returns the number of live subscribers for a session.
func (h *ScoreHub) SubscriberCount(sessionID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers[sessionID])
}

// ServeWs upgrades the connection and registers the subscriber. The
// session id comes from the query string.
func (h *ScoreHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := scoreUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade connection to websocket")
		return
	}

	client := &wsClient{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		logger:    h.logger,
		sessionID: sessionID,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// removeLocked unregisters a client. Caller holds the write lock.
func (h *ScoreHub) removeLocked(client *wsClient) {
	if subscribers, exists := h.subscribers[client.sessionID]; exists {
		if _, ok := subscribers[client]; ok {
			delete(subscribers, client)
			close(client.send)
			if len(subscribers) == 0 {
				delete(h.subscribers, client.sessionID)
			}
		}
	}
}

func (h *ScoreHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, subscribers := range h.subscribers {
		for client := range subscribers {
			close(client.send)
		}
	}
	h.subscribers = make(map[string]map[*wsClient]bool)
}

// writePump pumps queued frames to the connection and keeps it alive
// with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(60 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued frames into this write.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and unregisters on disconnect.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
