package gateway

import (
	"log/slog"

	"github.com/pkg/errors"

	"presence-gateway/domain"
)

// Authenticator resolves the user a handshake speaks for.
type Authenticator interface {
	Authenticate(hs domain.Handshake) (userID string, err error)
}

// HandshakeAuthenticator trusts the user id carried by the handshake and
// only rejects a missing one.
type HandshakeAuthenticator struct{}

func (HandshakeAuthenticator) Authenticate(hs domain.Handshake) (string, error) {
	userID := hs.Normalized().UserID
	if userID == "" {
		return "", ErrHandshakeRejected
	}
	return userID, nil
}

// Establish authenticates hs and registers conn as the user's current
// connection. On success the user is announced online, the new connection
// gets the online snapshot and the returned session is ready for frames.
// A rejected handshake mutates nothing; the caller must close conn.
func (s *Service) Establish(conn domain.Connection, hs domain.Handshake) (*domain.Session, error) {
	userID, err := s.auth.Authenticate(hs)
	if err == nil && userID == "" {
		err = ErrHandshakeRejected
	}
	if err != nil {
		s.metrics.handshakeRejected()
		slog.Info("handshake rejected", "connId", conn.ID(), "error", err)
		if errors.Is(err, ErrHandshakeRejected) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrHandshakeRejected, "authenticate: %v", err)
	}

	sess := &domain.Session{Conn: conn, UserID: userID}

	s.locks.With(userID, func() {
		previous := s.registry.Register(userID, conn.ID())
		if previous != "" && previous != conn.ID() {
			dropped := s.tracker.Clear(userID)
			slog.Info("connection superseded", "userId", userID, "connId", previous, "rooms", len(dropped))
		}

		s.hub.Register(conn)
		personal := PersonalRoom(userID)
		s.tracker.Add(userID, personal)
		s.hub.Join(personal, conn)

		s.announceOnline(sess, s.registry.OnlineUserIDs())
	})

	s.metrics.connectionAccepted()
	slog.Info("user connected", "userId", userID, "connId", conn.ID())
	return sess, nil
}

// Terminate runs when the session's connection has closed. The user goes
// offline only if this connection is still the registered one.
func (s *Service) Terminate(sess *domain.Session) {
	var removed bool

	s.locks.With(sess.UserID, func() {
		removed = s.registry.Deregister(sess.UserID, sess.ConnID())
		if removed {
			s.tracker.Clear(sess.UserID)
		}
		s.hub.Unregister(sess.Conn)

		if removed {
			s.announceOffline(sess.UserID)
		}
	})

	if !removed {
		s.metrics.staleDisconnect()
		slog.Debug("stale disconnect ignored", "userId", sess.UserID, "connId", sess.ConnID())
		return
	}
	slog.Info("user disconnected", "userId", sess.UserID, "connId", sess.ConnID())
}
