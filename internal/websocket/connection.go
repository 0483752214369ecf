package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"beacon/pkg/types"
	"github.com/gorilla/websocket"
)

// Connection wraps a live WebSocket connection together with the metadata
// the registry tracks for it: the authenticated principal, the connect time,
// and the set of subscribed topics. All writes go through a single writer
// goroutine so concurrent fan-out and router replies never race on the
// underlying socket.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	principal    *types.Principal // set once after authentication
	connectedAt  time.Time
	topics       map[string]struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex // protects principal and topics
}

// NewConnection creates a connection wrapper and starts its writer goroutine.
// bufferSize bounds the outbound queue so one slow receiver cannot stall
// fan-out to the rest; writeTimeout bounds each socket write.
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
		topics:       make(map[string]struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the single writer for the underlying socket.
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh // drain remaining messages
		}
		close(c.writeCh)
	}()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read loop observes the same failure and reaps the
				// connection; nothing more to do here.
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteText queues a pre-serialized frame for delivery. It never blocks
// longer than the write timeout: a full queue or a closed connection yields
// an error instead.
func (c *Connection) WriteText(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON serializes v and queues it for delivery.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.WriteText(data)
}

// Close tears down the connection. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
		// writeCh is closed by the writeLoop goroutine
	})
	return err
}

// SetPrincipal records the authenticated identity. Called exactly once,
// before the connection is inserted into the registry.
func (c *Connection) SetPrincipal(principal *types.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = principal
}

// Principal returns the authenticated identity, or nil before
// authentication completes.
func (c *Connection) Principal() *types.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal
}

// IsAuthenticated reports whether a principal has been attached.
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal != nil
}

// ConnectedAt returns the time the wrapper was created.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Subscribe adds a topic to the connection's subscription set. Only frames
// arriving on this connection mutate the set, so writes are naturally
// serialized; the lock exists for concurrent fan-out reads.
func (c *Connection) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes a topic. Removing an absent topic is a no-op.
func (c *Connection) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// IsSubscribed reports whether the connection has subscribed to topic.
func (c *Connection) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.topics[topic]
	return ok
}

// Topics returns a copy of the current subscription set.
func (c *Connection) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	return topics
}
