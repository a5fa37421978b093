package gateway

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"presence-gateway/domain"
)

// personalPrefix scopes personal rooms apart from server rooms.
const personalPrefix = "user:"

// PersonalRoom returns the id of the room only userID's connection is in.
func PersonalRoom(userID string) string {
	return personalPrefix + userID
}

func isPersonalRoom(roomID string) bool {
	return strings.HasPrefix(roomID, personalPrefix)
}

// Join adds the session's connection to the server room roomID. Repeated
// joins are no-ops. Only the user's current connection may join, and
// personal rooms cannot be joined at all.
func (s *Service) Join(sess *domain.Session, roomID string) error {
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if isPersonalRoom(roomID) {
		return ErrReservedRoomID
	}

	var err error
	s.locks.With(sess.UserID, func() {
		current, ok := s.registry.ConnectionID(sess.UserID)
		if !ok || current != sess.ConnID() {
			err = ErrSupersededConnection
			return
		}
		if s.tracker.Add(sess.UserID, roomID) {
			s.hub.Join(roomID, sess.Conn)
			slog.Debug("room joined", "userId", sess.UserID, "room", roomID)
		}
	})
	return err
}

// Route fans payload out as a message event to every member of roomID
// except the sender's connection and returns the delivery count. A room
// without members, or an empty room id, routes nowhere. Clients cannot
// route into personal rooms; direct delivery goes through EmitToUser.
func (s *Service) Route(sess *domain.Session, roomID string, payload json.RawMessage) (int, error) {
	if roomID == "" {
		return 0, nil
	}
	if isPersonalRoom(roomID) {
		return 0, ErrReservedRoomID
	}
	if s.requireMembership && !s.hub.IsMember(roomID, sess.ConnID()) {
		return 0, ErrNotRoomMember
	}

	frame, err := domain.EncodeFrame(domain.EventMessage, payload)
	if err != nil {
		return 0, errors.Wrap(err, "encode message")
	}

	delivered := s.hub.Broadcast(roomID, sess.ConnID(), frame)
	s.metrics.fanout(delivered)
	return delivered, nil
}

// EmitToUser delivers event to userID through its personal room.
func (s *Service) EmitToUser(userID, event string, data any) (int, error) {
	if userID == "" {
		return 0, ErrEmptyRoomID
	}
	return s.EmitToRoom(PersonalRoom(userID), event, data)
}

// EmitToRoom delivers event to every member of roomID.
func (s *Service) EmitToRoom(roomID, event string, data any) (int, error) {
	if roomID == "" {
		return 0, ErrEmptyRoomID
	}
	frame, err := domain.EncodeFrame(event, data)
	if err != nil {
		return 0, errors.Wrapf(err, "encode %s", event)
	}
	return s.hub.Broadcast(roomID, "", frame), nil
}
