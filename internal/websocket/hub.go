package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/freshkeep/internal/model"
)

// Message is a live update sent to one user's open sessions.
type Message struct {
	Type         string              `json:"type"`
	Entity       string              `json:"entity"`
	Action       string              `json:"action"`
	ID           int64               `json:"id,omitempty"`
	Notification *model.Notification `json:"notification,omitempty"`
	Extra        map[string]any      `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks open connections per user and routes messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.clients[c.userID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.clients, c.userID)
		}
	}
	h.mu.Unlock()
}

// Send delivers msg to every session of userID.
func (h *Hub) Send(userID int64, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal live message", "user_id", userID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			// Client buffer full — drop message to avoid blocking
			h.logger.Warn("dropping live message for slow client", "user_id", userID, "type", msg.Type)
		}
	}
}

// Publish pushes a freshly created notification to the user's sessions.
func (h *Hub) Publish(userID int64, n model.Notification) {
	msg := NewMessage("notification", "created", n.ID, nil)
	msg.Notification = &n
	h.Send(userID, msg)
}

// CloseAll ends every session with a going-away status. http.Server.Shutdown
// does not touch hijacked connections, so call this during shutdown.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	var conns []*ws.Conn
	for _, set := range h.clients {
		for c := range set {
			conns = append(conns, c.conn)
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn.Close(ws.StatusGoingAway, reason)
		}()
	}
	wg.Wait()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
