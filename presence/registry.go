// Package presence holds the process-wide reachability tables: which user
// is online through which connection, and which rooms that connection
// joined. State lives only in memory.
package presence

import (
	"sort"
	"sync"
)

// Registry maps a user id to the connection id currently representing it.
// A user is online iff an entry exists. A second connection for the same
// user overwrites the first.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]string)}
}

// Register stores connID for userID and returns the connection id it
// replaced, if any.
func (r *Registry) Register(userID, connID string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous = r.entries[userID]
	r.entries[userID] = connID
	return previous
}

// Deregister removes userID only while it still points at connID. A late
// close from a superseded connection therefore leaves the newer entry alone.
func (r *Registry) Deregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[userID]
	if !ok || current != connID {
		return false
	}
	delete(r.entries, userID)
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[userID]
	return ok
}

// ConnectionID returns the connection currently registered for userID.
func (r *Registry) ConnectionID(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.entries[userID]
	return connID, ok
}

// OnlineUserIDs returns a sorted snapshot of every online user id.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
