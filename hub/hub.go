package hub

import (
	"log/slog"
	"sync"

	"presence-gateway/domain"
)

// room is a broadcast group: the set of connections currently joined to it.
type room struct {
	members map[string]domain.Connection
	mu      sync.RWMutex
}

type entry struct {
	conn  domain.Connection
	rooms map[string]struct{}
}

// Hub is the broadcast-group primitive. It knows every live connection and
// the rooms each of them has joined, and nothing about users.
type Hub struct {
	conns map[string]*entry
	rooms map[string]*room
	mu    sync.RWMutex
}

func New() *Hub {
	return &Hub{
		conns: make(map[string]*entry),
		rooms: make(map[string]*room),
	}
}

// Register makes conn reachable through BroadcastAll. Registering the same
// connection twice is a no-op.
func (h *Hub) Register(conn domain.Connection) {
	h.mu.Lock()
	if _, exists := h.conns[conn.ID()]; !exists {
		h.conns[conn.ID()] = &entry{conn: conn, rooms: make(map[string]struct{})}
	}
	count := len(h.conns)
	h.mu.Unlock()

	slog.Debug("connection registered", "connId", conn.ID(), "connections", count)
}

// Unregister removes conn from every room it joined and from the hub.
// Rooms left without members are dropped.
func (h *Hub) Unregister(conn domain.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, exists := h.conns[conn.ID()]
	if !exists {
		return
	}
	delete(h.conns, conn.ID())

	for roomID := range e.rooms {
		r, ok := h.rooms[roomID]
		if !ok {
			continue
		}
		r.mu.Lock()
		delete(r.members, conn.ID())
		empty := len(r.members) == 0
		r.mu.Unlock()

		if empty {
			delete(h.rooms, roomID)
			slog.Debug("room removed", "room", roomID)
		}
	}

	slog.Debug("connection unregistered", "connId", conn.ID(), "rooms", len(e.rooms))
}

// Join adds conn to roomID's group, creating the group on first join.
// It reports whether conn was newly added; unknown connections are ignored.
func (h *Hub) Join(roomID string, conn domain.Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, exists := h.conns[conn.ID()]
	if !exists {
		return false
	}
	if _, joined := e.rooms[roomID]; joined {
		return false
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]domain.Connection)}
		h.rooms[roomID] = r
	}
	r.mu.Lock()
	r.members[conn.ID()] = conn
	r.mu.Unlock()
	e.rooms[roomID] = struct{}{}

	return true
}

// IsMember reports whether the connection with connID is in roomID's group.
func (h *Hub) IsMember(roomID, connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, exists := h.conns[connID]
	if !exists {
		return false
	}
	_, joined := e.rooms[roomID]
	return joined
}

// Broadcast delivers data to every member of roomID except the connection
// identified by exceptID (empty means nobody is excluded). It returns the
// number of successful deliveries. Members whose Send fails are closed; the
// transport then runs its normal termination path.
func (h *Hub) Broadcast(roomID, exceptID string, data []byte) int {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for id, conn := range r.members {
		if id == exceptID {
			continue
		}
		if deliver(conn, data) {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll delivers data to every registered connection except exceptID.
func (h *Hub) BroadcastAll(exceptID string, data []byte) int {
	h.mu.RLock()
	targets := make([]domain.Connection, 0, len(h.conns))
	for id, e := range h.conns {
		if id != exceptID {
			targets = append(targets, e.conn)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if deliver(conn, data) {
			delivered++
		}
	}
	return delivered
}

// Stats returns the number of non-empty rooms and live connections.
func (h *Hub) Stats() (rooms, clients int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

// RoomSize returns how many connections are joined to roomID.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.RLock()
	r, exists := h.rooms[roomID]
	h.mu.RUnlock()

	if !exists {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func deliver(conn domain.Connection, data []byte) bool {
	if err := conn.Send(data); err != nil {
		slog.Warn("dropping slow connection", "connId", conn.ID(), "error", err)
		go conn.Close()
		return false
	}
	return true
}
