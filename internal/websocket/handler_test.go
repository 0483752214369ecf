package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"beacon/internal/config"
	"beacon/pkg/interfaces"
	"beacon/pkg/types"
	"github.com/gorilla/websocket"
)

// stubVerifier resolves tokens from a fixed map, mirroring the external
// credential verifier contract.
type stubVerifier struct {
	principals map[string]*types.Principal
}

func (v *stubVerifier) Verify(ctx context.Context, token string) (*types.Principal, error) {
	principal, ok := v.principals[token]
	if !ok {
		return nil, interfaces.ErrInvalidToken
	}
	if !principal.Active {
		return nil, interfaces.ErrAccountDeactivated
	}
	return principal, nil
}

// recordingRouter captures forwarded frames for assertions.
type recordingRouter struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingRouter) HandleFrame(conn *Connection, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, data)
}

func (r *recordingRouter) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func testPrincipals() map[string]*types.Principal {
	return map[string]*types.Principal{
		"admin-token": {ID: "admin1", Name: "Admin One", Email: "admin@example.com", Role: types.RoleAdmin, Active: true},
		"user-token":  {ID: "user1", Name: "User One", Email: "user@example.com", Role: types.RoleUser, Active: true},
		"gone-token":  {ID: "user2", Name: "User Two", Email: "user2@example.com", Role: types.RoleUser, Active: false},
	}
}

func newHandlerServer(t *testing.T) (*Registry, *recordingRouter, *httptest.Server) {
	registry := NewRegistry()
	frames := &recordingRouter{}
	handler := NewHandler(registry, &stubVerifier{principals: testPrincipals()}, frames, config.DefaultConfig().WebSocket)

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() { server.Close() })

	return registry, frames, server
}

func dialWS(t *testing.T, server *httptest.Server, query string, header http.Header) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, err
}

// expectPolicyClose reads until the connection closes and asserts a 1008
// close with the given reason.
func expectPolicyClose(t *testing.T, conn *websocket.Conn, reason string) {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("Expected close error, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("Expected close code %d, got %d", websocket.ClosePolicyViolation, closeErr.Code)
	}
	if closeErr.Text != reason {
		t.Errorf("Expected close reason %q, got %q", reason, closeErr.Text)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestHandler_MissingTokenClosesWithPolicyViolation(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	expectPolicyClose(t, conn, "Authentication required")

	if registry.Count() != 0 {
		t.Errorf("No registry entry may exist for unauthenticated attempts, got %d", registry.Count())
	}
}

func TestHandler_InvalidTokenClosesWithPolicyViolation(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=bogus", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	expectPolicyClose(t, conn, "Invalid user")

	if registry.Count() != 0 {
		t.Errorf("No registry entry may exist for invalid tokens, got %d", registry.Count())
	}
}

func TestHandler_DeactivatedAccountClosesWithPolicyViolation(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=gone-token", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	expectPolicyClose(t, conn, "Account is deactivated")

	if registry.Count() != 0 {
		t.Errorf("No registry entry may exist for deactivated accounts, got %d", registry.Count())
	}
}

func TestHandler_ValidTokenRegistersAndSendsConnectionEvent(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=admin-token", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read connection event: %v", err)
	}

	if event.Type != types.EventTypeConnection {
		t.Errorf("Expected %s event, got %s", types.EventTypeConnection, event.Type)
	}
	if event.User == nil || event.User.Role != types.RoleAdmin {
		t.Errorf("Expected admin principal in connection event, got %+v", event.User)
	}

	waitFor(t, 2*time.Second, func() bool {
		return registry.CountByRole(types.RoleAdmin) == 1
	}, "Admin connection count should increase by 1")
}

func TestHandler_BearerHeaderToken(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer user-token")

	conn, err := dialWS(t, server, "", header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read connection event: %v", err)
	}
	if event.Type != types.EventTypeConnection {
		t.Errorf("Expected %s event, got %s", types.EventTypeConnection, event.Type)
	}

	waitFor(t, 2*time.Second, func() bool {
		return registry.Count() == 1
	}, "Connection should be registered via bearer token")
}

func TestHandler_QueryParameterTakesPrecedence(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	// Bogus header is ignored because the query parameter wins.
	header := http.Header{}
	header.Set("Authorization", "Bearer bogus")

	conn, err := dialWS(t, server, "?token=user-token", header)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read connection event: %v", err)
	}
	if event.User == nil || event.User.ID != "user1" {
		t.Errorf("Expected principal resolved from query token, got %+v", event.User)
	}

	waitFor(t, 2*time.Second, func() bool { return registry.Count() == 1 },
		"Connection should register via the query token")
}

func TestHandler_FramesForwardedToRouter(t *testing.T) {
	_, frames, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=user-token", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("Failed to read connection event: %v", err)
	}

	if err := conn.WriteJSON(types.Frame{Type: types.FrameTypePing}); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return frames.frameCount() == 1
	}, "Inbound frame should reach the router")
}

func TestHandler_AbruptDisconnectCleansRegistry(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=user-token", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return registry.Count() == 1 },
		"Connection should be registered")

	// Abrupt close without a close handshake, as a crashed client would.
	_ = conn.Close()

	waitFor(t, 2*time.Second, func() bool { return registry.Count() == 0 },
		"Registry entry should be removed after transport error")
}

func TestHandler_DisconnectedPeerSkippedOnFanOut(t *testing.T) {
	registry, _, server := newHandlerServer(t)

	conn, err := dialWS(t, server, "?token=user-token", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return registry.Count() == 1 },
		"Connection should be registered")

	_ = conn.Close()
	waitFor(t, 2*time.Second, func() bool { return registry.Count() == 0 },
		"Registry entry should be removed")

	// A broadcast after the disconnect visits nobody and must not panic.
	data, _ := json.Marshal(types.NewNotificationEvent(types.CategoryOrder, "New order received", nil))
	delivered := 0
	registry.ForEach(func(c *Connection) {
		if c.WriteText(data) == nil {
			delivered++
		}
	})
	if delivered != 0 {
		t.Errorf("Expected no deliveries after disconnect, got %d", delivered)
	}
}
