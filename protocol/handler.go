package protocol

import (
	"encoding/json"
	"log/slog"

	"presence-gateway/domain"
)

// Gateway is what the handler dispatches decoded frames to.
type Gateway interface {
	Join(sess *domain.Session, roomID string) error
	Route(sess *domain.Session, roomID string, payload json.RawMessage) (int, error)
}

type Handler struct {
	gateway Gateway
}

func NewHandler(g Gateway) *Handler {
	return &Handler{gateway: g}
}

// Handle decodes one inbound frame. Malformed frames are logged and dropped.
func (h *Handler) Handle(sess *domain.Session, data []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		slog.Warn("invalid frame", "userId", sess.UserID, "connId", sess.ConnID(), "error", err)
		return
	}

	switch frame.Event {
	case domain.EventPing:
		pong, err := domain.EncodeFrame(domain.EventPong, frame.Data)
		if err == nil {
			sess.Conn.Send(pong)
		}

	case domain.EventJoinServerRoom:
		var roomID string
		if err := json.Unmarshal(frame.Data, &roomID); err != nil {
			slog.Warn("invalid join payload", "userId", sess.UserID, "error", err)
			return
		}
		if err := h.gateway.Join(sess, roomID); err != nil {
			slog.Warn("join refused", "userId", sess.UserID, "room", roomID, "error", err)
		}

	case domain.EventMessage:
		var msg domain.RoomMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			slog.Warn("invalid message payload", "userId", sess.UserID, "error", err)
			return
		}
		delivered, err := h.gateway.Route(sess, msg.ServerID, msg.Message)
		if err != nil {
			slog.Warn("message not routed", "userId", sess.UserID, "room", msg.ServerID, "error", err)
			return
		}
		slog.Debug("message routed", "userId", sess.UserID, "room", msg.ServerID, "delivered", delivered)

	default:
		slog.Debug("unknown event", "userId", sess.UserID, "event", frame.Event)
	}
}
