// Package events publishes confirmed presence transitions to NATS so that
// services outside the gateway can follow who is online.
package events

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

const (
	TypeOnline  = "online"
	TypeOffline = "offline"
)

// PresenceEvent is the payload published on <prefix>.<type>.<userId>.
type PresenceEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSSink struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	return &NATSSink{
		pub:    pub,
		prefix: strings.Trim(prefix, "."),
		now:    time.Now,
	}
}

func (s *NATSSink) UserOnline(userID string) {
	s.publish(TypeOnline, userID)
}

func (s *NATSSink) UserOffline(userID string) {
	s.publish(TypeOffline, userID)
}

// Subject returns the subject an event of the given type for userID is
// published on.
func (s *NATSSink) Subject(eventType, userID string) string {
	return s.prefix + "." + eventType + "." + subjectToken(userID)
}

func (s *NATSSink) publish(eventType, userID string) {
	data, err := json.Marshal(PresenceEvent{Type: eventType, UserID: userID, At: s.now().UTC()})
	if err != nil {
		slog.Warn("marshal presence event", "userId", userID, "error", err)
		return
	}

	subject := s.Subject(eventType, userID)
	if err := s.pub.Publish(subject, data); err != nil {
		slog.Warn("publish presence event", "subject", subject, "error", err)
		return
	}
	slog.Debug("published presence event", "subject", subject)
}

// subjectToken makes userID usable as a single subject token.
func subjectToken(userID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, userID)
}

// Connect dials NATS with reconnects enabled forever.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to NATS at %s", url)
	}
	return nc, nil
}
