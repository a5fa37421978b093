package domain

import (
	"encoding/json"
	"strings"
)

// Event names carried in Frame.Event.
const (
	EventUserOnline     = "user:online"
	EventUsersOnline    = "users:online"
	EventUserOffline    = "user:offline"
	EventJoinServerRoom = "join:serverRoom"
	EventMessage        = "message"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Frame is the envelope of every text frame exchanged with a client.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomMessage is the inbound payload of a "message" event.
type RoomMessage struct {
	ServerID string          `json:"serverId"`
	Message  json.RawMessage `json:"message"`
}

// Handshake is what a client presents when the link is established.
type Handshake struct {
	UserID string `json:"userId"`
}

// Normalized returns the handshake with surrounding whitespace removed.
func (h Handshake) Normalized() Handshake {
	return Handshake{UserID: strings.TrimSpace(h.UserID)}
}

// Connection is a single live transport link.
type Connection interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Session binds a connection to the user authenticated at handshake time.
// It is never mutated after creation.
type Session struct {
	Conn   Connection
	UserID string
}

// ConnID is shorthand for s.Conn.ID().
func (s *Session) ConnID() string {
	return s.Conn.ID()
}

type MessageHandler interface {
	Handle(sess *Session, data []byte)
}

// EncodeFrame marshals data and wraps it in a Frame for event.
func EncodeFrame(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
