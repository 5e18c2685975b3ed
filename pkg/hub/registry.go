package hub

import (
	"errors"
	"sort"
	"sync"
)

// ErrUsernameTaken is returned by Register when the username is held by a
// connection that is still open.
var ErrUsernameTaken = errors.New("hub: username already taken")

type registration struct {
	conn Conn
	seq  uint64
}

// Registry maps usernames to live connections. It is the single source of
// truth for who is online.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	seq     uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registration)}
}

// Register binds username to conn. An entry whose connection already reports
// closed is replaced.
func (r *Registry) Register(username string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[username]; ok && !existing.conn.Closed() {
		return ErrUsernameTaken
	}
	r.seq++
	r.entries[username] = &registration{conn: conn, seq: r.seq}
	return nil
}

// Unregister removes username. It reports whether an entry was removed.
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[username]; !ok {
		return false
	}
	delete(r.entries, username)
	return true
}

// UnregisterConn removes username only while it is still bound to conn.
func (r *Registry) UnregisterConn(username string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[username]
	if !ok || e.conn != conn {
		return false
	}
	delete(r.entries, username)
	return true
}

// Lookup returns the connection bound to username.
func (r *Registry) Lookup(username string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[username]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Online reports whether username is registered with an open connection.
func (r *Registry) Online(username string) bool {
	conn, ok := r.Lookup(username)
	return ok && !conn.Closed()
}

// Snapshot returns the registered usernames in join order.
func (r *Registry) Snapshot() []string {
	peers := r.peers("")
	names := make([]string, len(peers))
	for i, p := range peers {
		names[i] = p.name
	}
	return names
}

// Len returns the number of registered usernames.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

type peer struct {
	name string
	conn Conn
	seq  uint64
}

// peers copies the entries, minus exclude, in join order.
func (r *Registry) peers(exclude string) []peer {
	r.mu.RLock()
	out := make([]peer, 0, len(r.entries))
	for name, e := range r.entries {
		if name == exclude {
			continue
		}
		out = append(out, peer{name: name, conn: e.conn, seq: e.seq})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
