package websocket

import (
	"sync"

	"beacon/pkg/types"
)

// Registry is the authoritative in-memory mapping of live, authenticated
// connections. It is the single piece of shared mutable state in the hub:
// each connection's own goroutine inserts and removes itself, and any
// goroutine invoking the notifier iterates it. None of its operations
// return errors; the worst outcome is a silent no-op, favoring availability
// of the notification path over strict bookkeeping.
type Registry struct {
	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

// NewRegistry creates an empty registry. Construct one per process and pass
// it by reference to the handler and the notifier; there is no global.
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[*Connection]struct{}),
	}
}

// Insert adds a connection. Inserting nil, an unauthenticated connection,
// or a handle that is already present is a silent no-op; the lifecycle
// contract means none of those should occur.
func (r *Registry) Insert(conn *Connection) {
	if conn == nil || !conn.IsAuthenticated() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn] = struct{}{}
}

// Remove deletes the record for conn if present. Removing an absent or nil
// connection is a no-op, so a double-remove during disconnect races is
// harmless.
func (r *Registry) Remove(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, conn)
}

// ForEach invokes visitor for every currently-registered connection. It
// iterates a snapshot taken under the read lock, so visitors may write to
// connections or observe concurrently-mutating subscription sets without
// the iteration skipping entries or deadlocking against Insert/Remove.
func (r *Registry) ForEach(visitor func(*Connection)) {
	r.mu.RLock()
	snapshot := make([]*Connection, 0, len(r.connections))
	for conn := range r.connections {
		snapshot = append(snapshot, conn)
	}
	r.mu.RUnlock()

	for _, conn := range snapshot {
		visitor(conn)
	}
}

// Count returns the number of live registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountByRole returns the number of registered connections whose principal
// has the given role.
func (r *Registry) CountByRole(role string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for conn := range r.connections {
		if p := conn.Principal(); p != nil && p.Role == role {
			count++
		}
	}
	return count
}

// Stats returns aggregate counts for observability endpoints.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := map[string]int{
		"total_connections": len(r.connections),
		"admin_connections": 0,
		"user_connections":  0,
	}
	for conn := range r.connections {
		switch p := conn.Principal(); {
		case p == nil:
		case p.Role == types.RoleAdmin:
			stats["admin_connections"]++
		case p.Role == types.RoleUser:
			stats["user_connections"]++
		}
	}
	return stats
}
