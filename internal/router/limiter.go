package router

import (
	"sync"
	"time"

	"beacon/internal/websocket"
	"golang.org/x/time/rate"
)

// Inbound frame budget per connection: sustained one frame per second with
// a burst of twenty. Exceeding it produces an error reply, not a close.
const (
	frameRate  = rate.Limit(1)
	frameBurst = 20

	// Limiter state for a connection idle this long is discarded.
	limiterRetention = 5 * time.Minute
)

// FrameLimiter tracks a token-bucket limiter per live connection.
type FrameLimiter struct {
	mu      sync.Mutex
	clients map[*websocket.Connection]*clientLimit
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFrameLimiter creates an empty frame limiter.
func NewFrameLimiter() *FrameLimiter {
	return &FrameLimiter{
		clients: make(map[*websocket.Connection]*clientLimit),
	}
}

// Allow reports whether conn may process another inbound frame.
func (fl *FrameLimiter) Allow(conn *websocket.Connection) bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	limit, exists := fl.clients[conn]
	if !exists {
		limit = &clientLimit{limiter: rate.NewLimiter(frameRate, frameBurst)}
		fl.clients[conn] = limit
	}
	limit.lastSeen = time.Now()

	return limit.limiter.Allow()
}

// Cleanup removes state for connections that have not sent a frame within
// the retention window, so closed connections do not leak limiter entries.
func (fl *FrameLimiter) Cleanup() {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	now := time.Now()
	for conn, limit := range fl.clients {
		if now.Sub(limit.lastSeen) > limiterRetention {
			delete(fl.clients, conn)
		}
	}
}
