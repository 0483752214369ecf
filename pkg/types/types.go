package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Principal roles. Every authenticated connection carries exactly one.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Inbound frame types accepted by the message router.
const (
	FrameTypePing        = "ping"
	FrameTypeSubscribe   = "subscribe"
	FrameTypeUnsubscribe = "unsubscribe"
)

// Outbound event types. The set is closed: the router and the notifier
// construct events only through the New*Event helpers below.
const (
	EventTypeConnection   = "connection"
	EventTypePong         = "pong"
	EventTypeSubscribed   = "subscribed"
	EventTypeUnsubscribed = "unsubscribed"
	EventTypeError        = "error"
	EventTypeNotification = "notification"
)

// Notification categories for EventTypeNotification.
const (
	CategoryOrder     = "order"
	CategoryUser      = "user"
	CategoryInventory = "inventory"
	CategoryPayment   = "payment"
)

// Principal is the authenticated identity behind a connection. It is
// resolved once at authentication time and never changes for the lifetime
// of the connection. Active is excluded from serialization: clients only
// ever see the redacted view (id, name, email, role).
type Principal struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"-"`
}

// Frame is a structured inbound message from a client. Payload stays raw
// until the router knows which shape to decode it into.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChannelPayload is the payload shape for subscribe/unsubscribe frames.
type ChannelPayload struct {
	Channel string `json:"channel"`
}

// Event is an outbound message. One struct covers the whole closed type
// set; fields that do not apply to a given type are dropped from the wire
// format via omitempty.
type Event struct {
	ID        string      `json:"id,omitempty"`
	Type      string      `json:"type"`
	Category  string      `json:"category,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Message   string      `json:"message,omitempty"`
	User      *Principal  `json:"user,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
}

// Event IDs are generated server-side; clients never supply them.
func newEvent(eventType string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewConnectionEvent builds the welcome event sent once after successful
// authentication. The principal is embedded as its redacted view.
func NewConnectionEvent(principal *Principal) *Event {
	e := newEvent(EventTypeConnection)
	e.Message = "Connected to notification service"
	e.User = principal
	return e
}

// NewPongEvent builds the reply to an application-level ping frame.
func NewPongEvent() *Event {
	return newEvent(EventTypePong)
}

// NewSubscribedEvent confirms a topic subscription to the subscriber.
func NewSubscribedEvent(channel string) *Event {
	e := newEvent(EventTypeSubscribed)
	e.Channel = channel
	e.Message = fmt.Sprintf("Subscribed to %s", channel)
	return e
}

// NewUnsubscribedEvent confirms a topic unsubscription to the subscriber.
func NewUnsubscribedEvent(channel string) *Event {
	e := newEvent(EventTypeUnsubscribed)
	e.Channel = channel
	e.Message = fmt.Sprintf("Unsubscribed from %s", channel)
	return e
}

// NewErrorEvent builds a local error reply. Error events go only to the
// connection that caused them and never close it.
func NewErrorEvent(message string) *Event {
	e := newEvent(EventTypeError)
	e.Message = message
	return e
}

// NewNotificationEvent builds a fan-out notification with a fixed category
// and an opaque structured payload.
func NewNotificationEvent(category, message string, data interface{}) *Event {
	e := newEvent(EventTypeNotification)
	e.Category = category
	e.Message = message
	e.Data = data
	return e
}
