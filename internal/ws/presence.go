package ws

import (
	"sort"
	"sync"
)

// Conn is a live connection handle as seen by the presence registry and the
// routing code. *Client implements it; tests substitute fakes.
type Conn interface {
	UserID() string
	// Enqueue hands the message to the connection's send queue without
	// blocking. It returns false if the connection is gone or too slow;
	// delivery is best effort either way.
	Enqueue(msg OutgoingMessage) bool
	Close()
}

// Registry is the in-memory map of user id to active connection handle, the
// single source of truth for who is online. At most one connection per user
// is tracked: a new login overwrites the previous handle (last-writer-wins).
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// SetOnline registers the connection, displacing any previous handle for the
// same user. The displaced handle (if any) is returned so the caller can
// close it outside the lock.
func (r *Registry) SetOnline(c Conn) (displaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.conns[c.UserID()]
	if old == c {
		return nil
	}
	r.conns[c.UserID()] = c
	return old
}

// SetOffline removes the mapping only if the registered handle is the
// disconnecting one. This guards against a stale disconnect racing a fresh
// login: the fresh connection's registration survives.
func (r *Registry) SetOffline(c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.UserID()] != c {
		return false
	}
	delete(r.conns, c.UserID())
	return true
}

// Lookup returns the live connection for the user, if any. A hit is
// point-in-time only: the connection may drop before a subsequent push.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// ListOnline returns the sorted set of online user ids.
func (r *Registry) ListOnline() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast enqueues the message on every live connection. Network I/O stays
// outside the lock.
func (r *Registry) Broadcast(msg OutgoingMessage) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		targets = append(targets, c)
	}
	r.mu.RUnlock()
	for _, c := range targets {
		c.Enqueue(msg)
	}
}

// Send pushes to a single user if online. Returns whether the user had a
// registered connection at the time of the call.
func (r *Registry) Send(userID string, msg OutgoingMessage) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	c.Enqueue(msg)
	return true
}

// Snapshot returns the online members of the given id set, excluding except,
// with their connection handles.
func (r *Registry) Snapshot(ids []string, except string) (online []string, conns []Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		if id == except {
			continue
		}
		if c, ok := r.conns[id]; ok {
			online = append(online, id)
			conns = append(conns, c)
		}
	}
	return online, conns
}
