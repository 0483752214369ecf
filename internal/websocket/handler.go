package websocket

import (
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"beacon/internal/config"
	"beacon/pkg/interfaces"
	"beacon/pkg/types"
	"github.com/gorilla/websocket"
)

// Policy-violation close reasons. Clients that fail authentication see only
// a 1008 close with one of these strings.
const (
	reasonAuthRequired = "Authentication required"
	reasonInvalidUser  = "Invalid user"
	reasonDeactivated  = "Account is deactivated"
)

// Upgrader shared by all handler instances.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; origin policy belongs to the deployment proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// FrameRouter dispatches inbound frames for an active connection. Satisfied
// by router.Router; declared here so the handler does not depend on the
// router package.
type FrameRouter interface {
	HandleFrame(conn *Connection, data []byte)
}

// Handler runs the connection lifecycle: upgrade, authenticate, register,
// read frames, and clean up. Each connection gets its own goroutine, so
// transitions for different connections never block one another.
type Handler struct {
	registry *Registry
	verifier interfaces.CredentialVerifier
	router   FrameRouter
	cfg      *config.WebSocketConfig
}

// NewHandler creates a WebSocket handler with its dependencies injected.
func NewHandler(registry *Registry, verifier interfaces.CredentialVerifier, router FrameRouter, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		registry: registry,
		verifier: verifier,
		router:   router,
		cfg:      cfg,
	}
}

// HandleWebSocket upgrades the request and takes the connection through
// authentication. Authentication happens after the upgrade so rejections
// can use a proper policy-violation close frame; no registry entry exists
// until authentication succeeds.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if token == "" {
		h.rejectConnection(conn, reasonAuthRequired)
		return
	}

	principal, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		if errors.Is(err, interfaces.ErrAccountDeactivated) {
			h.rejectConnection(conn, reasonDeactivated)
		} else {
			h.rejectConnection(conn, reasonInvalidUser)
		}
		return
	}

	wsConn := NewConnection(conn, h.cfg.BufferSize, h.cfg.WriteTimeout)
	wsConn.SetPrincipal(principal)
	h.registry.Insert(wsConn)

	// Welcome event carries the redacted principal, never the credential.
	if err := wsConn.WriteJSON(types.NewConnectionEvent(principal)); err != nil {
		log.Printf("Failed to send connection event to %s: %v", principal.ID, err)
	}

	log.Printf("Connection registered: user=%s role=%s", principal.ID, principal.Role)

	go h.handleConnection(wsConn)
}

// extractToken pulls the credential from the token query parameter or the
// Authorization header. The query parameter wins when both are present.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// rejectConnection closes an unauthenticated connection with a
// policy-violation code (1008) and a human-readable reason.
func (h *Handler) rejectConnection(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Printf("Failed to write close frame: %v", err)
	}
	_ = conn.Close()
	log.Printf("Connection rejected: %s", reason)
}

// handleConnection owns the Active state: heartbeat monitoring plus the
// read loop feeding the router. On any transport close or error the
// deferred cleanup removes the registry entry (idempotent) and closes the
// wrapper; no further events are sent or accepted.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.Remove(conn)
		_ = conn.Close()
		if p := conn.Principal(); p != nil {
			log.Printf("Connection deregistered: user=%s", p.ID)
		}
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	// Protocol-level pings reap dead peers that never send frames; the
	// application-level ping/pong handled by the router is separate.
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			h.router.HandleFrame(conn, data)
		}
	}
}
