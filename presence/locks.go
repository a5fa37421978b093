package presence

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// Locks serializes work per user id. Users hashing to different stripes
// never wait on each other.
type Locks struct {
	stripes [lockStripes]sync.Mutex
}

// With runs fn while holding the stripe for userID.
func (l *Locks) With(userID string, fn func()) {
	m := l.stripe(userID)
	m.Lock()
	defer m.Unlock()
	fn()
}

func (l *Locks) stripe(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &l.stripes[h.Sum32()%lockStripes]
}
