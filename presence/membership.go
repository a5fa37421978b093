package presence

import (
	"sort"
	"sync"
)

// Tracker mirrors, per user, the rooms the user's current connection has
// joined in the hub, so callers can ask "which rooms is X in" without
// walking the broadcast groups.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]map[string]struct{})}
}

// Add records roomID for userID and reports whether it was new.
func (t *Tracker) Add(userID, roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms := t.users[userID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		t.users[userID] = rooms
	}
	if _, ok := rooms[roomID]; ok {
		return false
	}
	rooms[roomID] = struct{}{}
	return true
}

func (t *Tracker) Has(userID, roomID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.users[userID][roomID]
	return ok
}

// Rooms returns the sorted room ids recorded for userID.
func (t *Tracker) Rooms(userID string) []string {
	t.mu.RLock()
	rooms := t.users[userID]
	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	t.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Clear drops everything recorded for userID and returns what was there.
func (t *Tracker) Clear(userID string) []string {
	t.mu.Lock()
	rooms := t.users[userID]
	delete(t.users, userID)
	t.mu.Unlock()

	out := make([]string, 0, len(rooms))
	for id := range rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
