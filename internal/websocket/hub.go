package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	EventReminderSent      = "reminder_sent"
	EventReminderFailed    = "reminder_failed"
	EventReminderExhausted = "reminder_exhausted"
	EventRunCompleted      = "run_completed"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ReminderEvent is a live update pushed to dashboard clients.
type ReminderEvent struct {
	Type       string             `json:"type"`
	ReminderID string             `json:"reminder_id,omitempty"`
	BlockID    string             `json:"block_id,omitempty"`
	UserID     string             `json:"user_id,omitempty"`
	Attempt    int                `json:"attempt,omitempty"`
	ResponseMs int64              `json:"response_ms,omitempty"`
	Error      string             `json:"error,omitempty"`
	Summary    *domain.RunSummary `json:"summary,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Hub fans reminder events out to every connected websocket client.
type Hub struct {
	clients    map[*client]struct{}
	mu         sync.RWMutex
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *slog.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Call Run before serving clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "total_clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "total_clients", n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					// Slow client: drop it rather than block the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues event for every connected client. It never blocks; events
// are dropped when the hub is backed up.
func (h *Hub) Broadcast(event ReminderEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event", "type", event.Type)
	}
}

// ReminderAttempted publishes the outcome of one delivery attempt.
func (h *Hub) ReminderAttempted(r domain.Reminder, outcome domain.Outcome, status domain.Status, elapsed time.Duration, detail string) {
	event := ReminderEvent{
		Type:       EventReminderSent,
		ReminderID: r.ID,
		BlockID:    r.BlockID,
		UserID:     r.UserID,
		Attempt:    r.AttemptCount + 1,
		ResponseMs: elapsed.Milliseconds(),
	}
	if outcome == domain.OutcomeFailed {
		event.Type = EventReminderFailed
		if status == domain.StatusExhausted {
			event.Type = EventReminderExhausted
		}
		event.Error = detail
	}
	h.Broadcast(event)
}

// RunCompleted broadcasts the summary of a finished run.
func (h *Hub) RunCompleted(summary domain.RunSummary) {
	h.Broadcast(ReminderEvent{Type: EventRunCompleted, Summary: &summary})
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection so pongs and close frames are processed.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

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

func (c *client) writePump() {
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

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
