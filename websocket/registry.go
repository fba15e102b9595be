package websocket

import "sync"

// Registry is the authoritative set of currently open connections. Occupancy
// transitions (empty→non-empty, non-empty→empty) are reported atomically with
// the mutation itself, under the same lock, so concurrent adds or removes can
// never produce duplicate transition signals.
type Registry struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]struct{}),
	}
}

// Add registers a client. It reports whether the registry went from empty to
// non-empty as a result.
func (r *Registry) Add(c *Client) (becameNonEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return false
	}
	r.clients[c] = struct{}{}
	return len(r.clients) == 1
}

// Remove unregisters a client. It reports whether the registry went from
// non-empty to empty as a result. Removing an unknown client is a no-op.
func (r *Registry) Remove(c *Client) (becameEmpty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}
	delete(r.clients, c)
	return len(r.clients) == 0
}

// Size returns the number of registered clients.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Snapshot returns a copy of the current membership, safe to iterate while
// the live set keeps mutating.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		snapshot = append(snapshot, c)
	}
	return snapshot
}
