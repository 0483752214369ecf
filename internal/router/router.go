package router

import (
	"encoding/json"
	"fmt"
	"log"

	"beacon/internal/websocket"
	"beacon/pkg/types"
)

// Router dispatches inbound frames on an active connection. Every reply it
// produces goes only to the originating connection, never broadcast, and no
// inbound frame ever closes the connection: malformed or unknown frames get
// an error-type reply and the connection stays active.
type Router struct {
	limiter *FrameLimiter
}

// NewRouter creates a message router.
func NewRouter() *Router {
	return &Router{
		limiter: NewFrameLimiter(),
	}
}

// HandleFrame parses one inbound frame and dispatches it by type. The only
// registry metadata it mutates is the caller's own subscription set.
func (r *Router) HandleFrame(conn *websocket.Connection, data []byte) {
	if !r.limiter.Allow(conn) {
		r.reply(conn, types.NewErrorEvent("Rate limit exceeded"))
		return
	}

	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.reply(conn, types.NewErrorEvent("Invalid message format"))
		return
	}

	switch frame.Type {
	case types.FrameTypePing:
		r.reply(conn, types.NewPongEvent())

	case types.FrameTypeSubscribe:
		r.handleSubscribe(conn, frame.Payload)

	case types.FrameTypeUnsubscribe:
		r.handleUnsubscribe(conn, frame.Payload)

	default:
		r.reply(conn, types.NewErrorEvent(fmt.Sprintf("Unknown message type: %s", frame.Type)))
	}
}

// handleSubscribe adds the requested channel to the caller's subscriptions.
func (r *Router) handleSubscribe(conn *websocket.Connection, payload json.RawMessage) {
	channel, ok := r.extractChannel(conn, payload)
	if !ok {
		return
	}

	conn.Subscribe(channel)
	r.reply(conn, types.NewSubscribedEvent(channel))
}

// handleUnsubscribe removes the requested channel. Removing a channel the
// caller never subscribed to is a silent no-op.
func (r *Router) handleUnsubscribe(conn *websocket.Connection, payload json.RawMessage) {
	channel, ok := r.extractChannel(conn, payload)
	if !ok {
		return
	}

	conn.Unsubscribe(channel)
	r.reply(conn, types.NewUnsubscribedEvent(channel))
}

// extractChannel decodes the subscribe/unsubscribe payload. A missing or
// invalid channel name is a malformed frame: error reply, stay connected.
func (r *Router) extractChannel(conn *websocket.Connection, payload json.RawMessage) (string, bool) {
	var p types.ChannelPayload
	if len(payload) == 0 || json.Unmarshal(payload, &p) != nil {
		r.reply(conn, types.NewErrorEvent("Missing channel in payload"))
		return "", false
	}

	if !types.IsValidTopic(p.Channel) {
		r.reply(conn, types.NewErrorEvent(types.ErrInvalidTopic.Error()))
		return "", false
	}

	return p.Channel, true
}

// reply writes an event back to the originating connection. Send failures
// are logged and dropped; the connection is reaped by its own read loop.
func (r *Router) reply(conn *websocket.Connection, event *types.Event) {
	if err := conn.WriteJSON(event); err != nil {
		if p := conn.Principal(); p != nil {
			log.Printf("Failed to reply to %s: %v", p.ID, err)
		}
	}
}

// Cleanup drops rate-limiter state for connections idle past the retention
// window. Call periodically.
func (r *Router) Cleanup() {
	r.limiter.Cleanup()
}
