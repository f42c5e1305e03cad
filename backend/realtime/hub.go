// Package realtime pushes live events to connected websocket clients.
package realtime

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"unilink/backend/user"
)

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Authenticator resolves the token a client presents in its first frame.
type Authenticator interface {
	Parse(raw string) (user.Identity, error)
}

type client struct {
	conn      *websocket.Conn
	profileID int64
	mu        sync.Mutex // serialises writes
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Hub tracks open connections per profile. A profile may hold several.
type Hub struct {
	auth     Authenticator
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]map[*client]struct{}
}

func NewHub(auth Authenticator, allowedOrigin string) *Hub {
	return &Hub{
		auth: auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin == "*" || r.Header.Get("Origin") == "" || r.Header.Get("Origin") == allowedOrigin
			},
		},
		clients: make(map[int64]map[*client]struct{}),
	}
}

// ServeWS upgrades the request. The first frame must be {"token": "..."}.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Realtime] WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	var authData struct {
		Token string `json:"token"`
	}
	conn.SetReadDeadline(time.Now().Add(authTimeout))
	if err := conn.ReadJSON(&authData); err != nil {
		log.Println("[Realtime] Failed to read authentication frame:", err)
		conn.WriteJSON(map[string]string{"error": "invalid token data"})
		return
	}
	id, err := h.auth.Parse(user.BearerToken(authData.Token))
	if err != nil {
		log.Println("[Realtime] Invalid token:", err)
		conn.WriteJSON(map[string]string{"error": "unauthorized"})
		return
	}
	conn.SetReadDeadline(time.Time{})

	c := &client{conn: conn, profileID: id.ID}
	h.register(c)
	defer h.unregister(c)
	if err := c.writeJSON(map[string]any{"status": "connected", "user_id": id.ID}); err != nil {
		return
	}

	log.Printf("[Realtime] Profile %d connected", id.ID)
	for {
		var msg struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("[Realtime] Profile %d disconnected: %v", id.ID, err)
			return
		}
		if msg.Type == "ping" {
			if err := c.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.profileID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.profileID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.profileID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.profileID)
	}
}

// SendToProfile writes v to every connection of profileID and returns how
// many writes succeeded.
func (h *Hub) SendToProfile(profileID int64, v any) int {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[profileID]))
	for c := range h.clients[profileID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.writeJSON(v); err != nil {
			log.Printf("[Realtime] Write to profile %d failed: %v", profileID, err)
			continue
		}
		sent++
	}
	return sent
}

// Online reports whether profileID holds at least one connection.
func (h *Hub) Online(profileID int64) bool {
	return h.Connections(profileID) > 0
}

func (h *Hub) Connections(profileID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[profileID])
}
