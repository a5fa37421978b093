package gateway

import (
	"log/slog"

	"presence-gateway/domain"
)

// announceOnline tells every other connection that sess.UserID is online
// and hands the new connection the snapshot.
func (s *Service) announceOnline(sess *domain.Session, snapshot []string) {
	if frame, err := domain.EncodeFrame(domain.EventUserOnline, sess.UserID); err == nil {
		s.hub.BroadcastAll(sess.ConnID(), frame)
	} else {
		slog.Warn("encode online event", "userId", sess.UserID, "error", err)
	}

	if frame, err := domain.EncodeFrame(domain.EventUsersOnline, snapshot); err == nil {
		if err := sess.Conn.Send(frame); err != nil {
			slog.Warn("snapshot not delivered", "userId", sess.UserID, "connId", sess.ConnID(), "error", err)
		}
	} else {
		slog.Warn("encode snapshot", "userId", sess.UserID, "error", err)
	}

	if s.sink != nil {
		s.sink.UserOnline(sess.UserID)
	}
}

func (s *Service) announceOffline(userID string) {
	frame, err := domain.EncodeFrame(domain.EventUserOffline, userID)
	if err != nil {
		slog.Warn("encode offline event", "userId", userID, "error", err)
		return
	}
	s.hub.BroadcastAll("", frame)

	if s.sink != nil {
		s.sink.UserOffline(userID)
	}
}
