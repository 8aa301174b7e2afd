package ws

import (
	"hash/fnv"
	"sync"
)

const bucketCount = 64

type bucket struct {
	mu    sync.RWMutex
	users map[string]map[string]*Conn
}

// Registry maps user ids to their live connections. Users are spread over
// independently locked buckets so traffic of unrelated users never contends
// on one lock.
type Registry struct {
	buckets [bucketCount]*bucket
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.buckets {
		r.buckets[i] = &bucket{users: make(map[string]map[string]*Conn)}
	}
	return r
}

func (r *Registry) bucketFor(userID string) *bucket {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.buckets[h.Sum32()%bucketCount]
}

// Register adds conn to its user's live set. Registering the same handle
// twice is a no-op; a closed handle is never registered.
func (r *Registry) Register(conn *Conn) bool {
	b := r.bucketFor(conn.UserID())
	b.mu.Lock()
	defer b.mu.Unlock()
	if conn.Closed() {
		return false
	}
	conns, ok := b.users[conn.UserID()]
	if !ok {
		conns = make(map[string]*Conn)
		b.users[conn.UserID()] = conns
	}
	if _, exists := conns[conn.ID()]; exists {
		return false
	}
	conns[conn.ID()] = conn
	return true
}

// Deregister removes conn and then closes it, so once it returns no lookup
// can observe the handle. Safe on an already removed handle.
func (r *Registry) Deregister(conn *Conn) bool {
	b := r.bucketFor(conn.UserID())
	b.mu.Lock()
	removed := false
	if conns, ok := b.users[conn.UserID()]; ok {
		if current, exists := conns[conn.ID()]; exists && current == conn {
			delete(conns, conn.ID())
			removed = true
		}
		if len(conns) == 0 {
			delete(b.users, conn.UserID())
		}
	}
	b.mu.Unlock()

	conn.Close()
	return removed
}

// HandlesFor returns a snapshot of the user's live connections.
func (r *Registry) HandlesFor(userID string) []*Conn {
	b := r.bucketFor(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	conns := b.users[userID]
	out := make([]*Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	b := r.bucketFor(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[userID]) > 0
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	n := 0
	for _, b := range r.buckets {
		b.mu.RLock()
		for _, conns := range b.users {
			n += len(conns)
		}
		b.mu.RUnlock()
	}
	return n
}
