// internal/ws/hub.go
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"carelink-service/internal/pkg/jwt"
	"carelink-service/internal/pkg/session"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrTokenRevoked is returned when a connecting client presents a
// blacklisted or dead-session token.
var ErrTokenRevoked = errors.New("token has been revoked")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Event is the frame pushed to connected clients.
type Event struct {
	Type   string `json:"type"`
	JTI    string `json:"jti,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	userID int64
	jti    string
	send   chan []byte
}

// Hub tracks connected clients per user and fans out revocation events so a
// live web client learns immediately when its session dies server-side.
type Hub struct {
	clients map[int64]map[*client]bool
	mu      sync.RWMutex

	verifier *jwt.Verifier
	sessions *session.Manager
	logger   *zap.Logger
}

func NewHub(verifier *jwt.Verifier, sessions *session.Manager, logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[int64]map[*client]bool),
		verifier: verifier,
		sessions: sessions,
		logger:   logger,
	}
}

// Authenticate validates the token a connecting client presented.
func (h *Hub) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, err
	}

	blacklisted, err := h.sessions.IsTokenBlacklisted(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, ErrTokenRevoked
	}

	if _, err := h.sessions.GetSession(ctx, claims.UserID, claims.ID); err != nil {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// Serve registers an upgraded connection and pumps it until it closes.
func (h *Hub) Serve(conn *websocket.Conn, claims *jwt.Claims) {
	c := &client{
		conn:   conn,
		userID: claims.UserID,
		jti:    claims.ID,
		send:   make(chan []byte, 16),
	}

	h.mu.Lock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]bool)
	}
	h.clients[c.userID][c] = true
	h.mu.Unlock()

	go c.writePump()
	c.readPump(h)
}

// ForceLogout notifies a user's connections that a session was revoked and
// closes the ones bound to the revoked jti. Empty jti means all of them.
func (h *Hub) ForceLogout(userID int64, jti, reason string) {
	payload, err := json.Marshal(Event{Type: "session:revoked", JTI: jti, Reason: reason})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
		}
		// Deregister before closing so a second revocation for the same
		// user never double-closes the channel.
		if jti == "" || c.jti == jti {
			delete(h.clients[userID], c)
			close(c.send)
		}
	}
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// IsUserConnected reports whether the user has at least one live connection.
func (h *Hub) IsUserConnected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[c.userID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.clients, c.userID)
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients only listen; any read error ends the connection.
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
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
