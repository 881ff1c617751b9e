// Package notification provides the WebSocket hub that authenticates clients
// and broadcasts session, library, progress and job events to them.
package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/shelfcast/internal/app/auth"
	"github.com/osa030/shelfcast/internal/domain/playback"
)

const (
	connectedMessage = "WebSocket connection established"
	authTimeout      = 10 * time.Second
)

// Config represents hub connection tuning.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

// DefaultConfig returns the standard connection tuning.
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     64,
	}
}

// Hub manages authenticated WebSocket clients and broadcasting.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	closed   bool
	verifier auth.Verifier
	config   Config
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHub creates a new hub that authenticates clients with verifier.
// Non-positive fields fall back to DefaultConfig.
func NewHub(cfg Config, verifier auth.Verifier) *Hub {
	def := DefaultConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	return &Hub{
		clients:  make(map[string]*client),
		verifier: verifier,
		config:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now: time.Now,
	}
}

// RegisterRoutes mounts the hub on mux at path.
func (h *Hub) RegisterRoutes(mux *http.ServeMux, path string) {
	mux.Handle(path, h)
}

// ServeHTTP upgrades the request and authenticates the connection using the
// token query parameter. Rejected connections are closed with 1008.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("websocket upgrade failed: %v", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.reject(conn, auth.ReasonAuthRequired)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), authTimeout)
	identity, err := h.verifier.Verify(ctx, token)
	cancel()
	if err != nil {
		zlog.Info().Str("remote_addr", r.RemoteAddr).Msgf("websocket authentication failed: %v", err)
		h.reject(conn, auth.RejectReason(err))
		return
	}

	c := &client{
		id:            uuid.New().String(),
		userID:        identity.UserID,
		username:      identity.Username,
		authenticated: true,
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, h.config.SendBuffer),
	}
	greeting, _ := json.Marshal(ConnectedEvent{Type: EventConnected, Message: connectedMessage})
	if !h.register(c, greeting) {
		h.reject(conn, "Server shutting down")
		return
	}

	zlog.Info().Str("client_id", c.id).Msgf("websocket client connected: user_id=%d username=%s", c.userID, c.username)

	go c.writePump()
	go c.readPump()
}

// reject closes conn with a policy violation and the given reason.
func (h *Hub) reject(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.config.WriteWait)); err != nil {
		zlog.Debug().Msgf("failed to send close frame: %v", err)
	}
	_ = conn.Close()
}

// register adds the client and queues its first frame.
func (h *Hub) register(c *client, first []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	c.send <- first
	return true
}

// unregister removes the client record. Safe to call more than once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	c.closed.Store(true)
	close(c.send)
	zlog.Info().Str("client_id", c.id).Msgf("websocket client disconnected: user_id=%d", c.userID)
}

// Broadcast sends message to every open, authenticated client.
// A client whose send buffer is full misses the message; others are not
// affected.
func (h *Hub) Broadcast(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "failed to marshal broadcast message")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !c.authenticated || !c.open() {
			continue
		}
		select {
		case c.send <- data:
		default:
			zlog.Warn().Str("client_id", c.id).Msg("send buffer full, dropping message")
		}
	}
	return nil
}

// BroadcastSessionUpdate publishes a session event. An empty eventType
// means session.update.
func (h *Hub) BroadcastSessionUpdate(s *playback.Session, eventType string) {
	if s == nil {
		return
	}
	if eventType == "" {
		eventType = EventSessionUpdate
	}
	h.publish(NewSessionEvent(eventType, s, h.now()))
}

// BroadcastLibraryUpdate publishes a catalog event. book is nil for deletes.
func (h *Hub) BroadcastLibraryUpdate(eventType string, book *playback.Audiobook) {
	h.publish(NewLibraryEvent(eventType, book, h.now()))
}

// BroadcastProgressUpdate publishes a saved listening position.
func (h *Hub) BroadcastProgressUpdate(userID, audiobookID int64, progress Progress) {
	h.publish(ProgressEvent{
		Type:        EventProgressUpdate,
		Timestamp:   formatTimestamp(h.now()),
		UserID:      userID,
		AudiobookID: audiobookID,
		Progress:    progress,
	})
}

// BroadcastJobUpdate publishes a background job status change.
func (h *Hub) BroadcastJobUpdate(name, status string, details map[string]any) {
	h.publish(NewJobEvent(name, status, details, h.now()))
}

func (h *Hub) publish(message any) {
	if err := h.Broadcast(message); err != nil {
		zlog.Error().Msgf("broadcast failed: %v", err)
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new connections.
// Safe to call on a hub that never served a connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true

	for id, c := range h.clients {
		delete(h.clients, id)
		c.closed.Store(true)
		close(c.send)
	}
}
