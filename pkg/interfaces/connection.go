package interfaces

import "beacon/pkg/types"

// Connection represents a live WebSocket client connection. Implementations
// must make WriteJSON safe for concurrent use (the websocket package does
// this with a single-writer pump) and Close idempotent.
type Connection interface {
	// WriteJSON serializes v and queues it for delivery to the client.
	WriteJSON(v interface{}) error

	// Close tears down the connection and releases its resources. Safe to
	// call more than once.
	Close() error

	// Principal returns the authenticated identity behind the connection,
	// or nil before authentication completes.
	Principal() *types.Principal

	// IsSubscribed reports whether the connection has subscribed to topic.
	IsSubscribed(topic string) bool
}
