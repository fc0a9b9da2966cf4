package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fathomhq/fathom/internal/core"
	"github.com/fathomhq/fathom/internal/logging"
)

// EventMessage is one push notification to a workspace's clients.
type EventMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub pushes connection and sync events to subscribed browser
// sessions. Clients subscribe per workspace; broadcasts fan out only
// to that workspace's sockets.
type EventHub struct {
	upgrader websocket.Upgrader
	log      *logging.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]core.WorkspaceID
}

// NewEventHub creates an event hub.
func NewEventHub() *EventHub {
	return &EventHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced at the router
			},
		},
		log:     logging.Component("events"),
		clients: make(map[*websocket.Conn]core.WorkspaceID),
	}
}

// Broadcast sends an event to every client subscribed to the
// workspace. Dead sockets are dropped on write failure.
func (h *EventHub) Broadcast(workspaceID core.WorkspaceID, event string, payload any) {
	msg := EventMessage{
		Type:      event,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ws := range h.clients {
		if ws != workspaceID {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// handleWebSocket upgrades a subscription request. The workspace
// comes from the query string.
func (h *EventHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	workspaceID := core.WorkspaceID(r.URL.Query().Get("workspaceId"))
	if workspaceID == "" {
		http.Error(w, "workspaceId required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = workspaceID
	h.mu.Unlock()

	// Drain the read side until the client goes away.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
