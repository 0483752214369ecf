package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beacon/internal/config"
	"beacon/internal/router"
	"beacon/internal/websocket"
	"beacon/pkg/interfaces"
	"beacon/pkg/types"
	gws "github.com/gorilla/websocket"
)

// stubVerifier resolves a fixed token table, standing in for the database
// backed verifier.
type stubVerifier struct {
	principals map[string]*types.Principal
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*types.Principal, error) {
	principal, ok := s.principals[token]
	if !ok {
		return nil, interfaces.ErrInvalidToken
	}
	return principal, nil
}

// testStack is the full delivery path wired together: handler, router,
// registry, and notifier behind a real HTTP server.
type testStack struct {
	server   *httptest.Server
	registry *websocket.Registry
	notifier *Notifier
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	registry := websocket.NewRegistry()
	verifier := &stubVerifier{principals: map[string]*types.Principal{
		"admin1-token": {ID: "admin1", Name: "Admin One", Role: types.RoleAdmin, Active: true},
		"admin2-token": {ID: "admin2", Name: "Admin Two", Role: types.RoleAdmin, Active: true},
		"user1-token":  {ID: "user1", Name: "User One", Role: types.RoleUser, Active: true},
	}}

	cfg := config.DefaultConfig()
	handler := websocket.NewHandler(registry, verifier, router.NewRouter(), cfg.WebSocket)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testStack{
		server:   server,
		registry: registry,
		notifier: NewNotifier(registry),
	}
}

// connect dials the stack with a token and consumes the welcome event.
func (s *testStack) connect(t *testing.T, token string) *gws.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + token
	client, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial stack: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	welcome := readEvent(t, client)
	if welcome.Type != types.EventTypeConnection {
		t.Fatalf("Expected %s event, got %s", types.EventTypeConnection, welcome.Type)
	}
	return client
}

func sendFrame(t *testing.T, client *gws.Conn, frameType string, payload interface{}) {
	t.Helper()

	frame := map[string]interface{}{"type": frameType}
	if payload != nil {
		frame["payload"] = payload
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Failed to marshal frame: %v", err)
	}
	if err := client.WriteMessage(gws.TextMessage, data); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
}

// waitForCount polls until the registry reaches the expected size.
func (s *testStack) waitForCount(t *testing.T, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.registry.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Registry never reached %d connections, have %d", want, s.registry.Count())
}

func TestEndToEnd_OrderNotificationReachesAllAdmins(t *testing.T) {
	stack := newTestStack(t)

	adminA := stack.connect(t, "admin1-token")
	adminB := stack.connect(t, "admin2-token")
	user := stack.connect(t, "user1-token")
	stack.waitForCount(t, 3)

	if delivered := stack.notifier.OrderCreated(map[string]string{"id": "ord-42"}); delivered != 2 {
		t.Errorf("Expected delivery to 2 admins, got %d", delivered)
	}

	for _, client := range []*gws.Conn{adminA, adminB} {
		event := readEvent(t, client)
		if event.Type != types.EventTypeNotification {
			t.Errorf("Expected %s, got %s", types.EventTypeNotification, event.Type)
		}
		if event.Category != types.CategoryOrder {
			t.Errorf("Expected category %s, got %s", types.CategoryOrder, event.Category)
		}
		if event.Message != "New order received" {
			t.Errorf("Unexpected message: %s", event.Message)
		}
	}

	expectSilence(t, user)
}

func TestEndToEnd_SubscribeThenChannelDelivery(t *testing.T) {
	stack := newTestStack(t)

	subscriber := stack.connect(t, "user1-token")
	bystander := stack.connect(t, "admin1-token")
	stack.waitForCount(t, 2)

	sendFrame(t, subscriber, types.FrameTypeSubscribe, map[string]string{"channel": "orders"})
	ack := readEvent(t, subscriber)
	if ack.Type != types.EventTypeSubscribed {
		t.Fatalf("Expected %s, got %s", types.EventTypeSubscribed, ack.Type)
	}

	event := types.NewNotificationEvent(types.CategoryOrder, "New order received", nil)
	if delivered := stack.notifier.SendToChannel("orders", event); delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}

	got := readEvent(t, subscriber)
	if got.Type != types.EventTypeNotification {
		t.Errorf("Expected %s, got %s", types.EventTypeNotification, got.Type)
	}

	expectSilence(t, bystander)
}

func TestEndToEnd_MalformedFrameDoesNotAffectOthers(t *testing.T) {
	stack := newTestStack(t)

	offender := stack.connect(t, "user1-token")
	neighbor := stack.connect(t, "admin1-token")
	stack.waitForCount(t, 2)

	if err := offender.WriteMessage(gws.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to write malformed frame: %v", err)
	}

	// Offender gets an error reply on its own connection and stays active.
	errEvent := readEvent(t, offender)
	if errEvent.Type != types.EventTypeError {
		t.Fatalf("Expected %s, got %s", types.EventTypeError, errEvent.Type)
	}
	if errEvent.Message != "Invalid message format" {
		t.Errorf("Unexpected error message: %s", errEvent.Message)
	}

	event := types.NewNotificationEvent(types.CategoryUser, "New user registered", nil)
	if delivered := stack.notifier.BroadcastAll(event); delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}
	readEvent(t, offender)
	readEvent(t, neighbor)
}

func TestEndToEnd_DisconnectStopsDelivery(t *testing.T) {
	stack := newTestStack(t)

	leaver := stack.connect(t, "user1-token")
	stayer := stack.connect(t, "admin1-token")
	stack.waitForCount(t, 2)

	_ = leaver.Close()
	stack.waitForCount(t, 1)

	event := types.NewNotificationEvent(types.CategoryInventory, "Product low on stock", nil)
	if delivered := stack.notifier.BroadcastAll(event); delivered != 1 {
		t.Errorf("Expected 1 delivery after disconnect, got %d", delivered)
	}
	readEvent(t, stayer)
}
