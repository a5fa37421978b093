// Package gateway ties connection lifecycle, presence and room fanout
// together. The websocket adapter and the protocol handler talk to a
// *Service; nothing outside this package mutates the presence tables.
package gateway

import (
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"presence-gateway/hub"
	"presence-gateway/presence"
)

var (
	ErrHandshakeRejected    = errors.New("handshake rejected: missing user id")
	ErrEmptyRoomID          = errors.New("empty room id")
	ErrSupersededConnection = errors.New("connection superseded by a newer one")
	ErrNotRoomMember        = errors.New("sender has not joined room")
	ErrReservedRoomID       = errors.New("room id is in the personal room namespace")
	ErrNotStarted           = errors.New("gateway accessed before start")
)

// PresenceSink receives confirmed presence transitions, after the
// in-process broadcast for the same transition.
type PresenceSink interface {
	UserOnline(userID string)
	UserOffline(userID string)
}

type Service struct {
	hub      *hub.Hub
	registry *presence.Registry
	tracker  *presence.Tracker
	locks    presence.Locks

	auth              Authenticator
	sink              PresenceSink
	meter             metric.Meter
	metrics           *metrics
	requireMembership bool
}

type Option func(*Service)

func WithAuthenticator(a Authenticator) Option {
	return func(s *Service) { s.auth = a }
}

func WithSink(sink PresenceSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMeter overrides the meter taken from the global provider.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) { s.meter = m }
}

// WithRequireMembership controls whether Route refuses senders that have
// not joined the target room. Enabled by default.
func WithRequireMembership(require bool) Option {
	return func(s *Service) { s.requireMembership = require }
}

func New(h *hub.Hub, registry *presence.Registry, tracker *presence.Tracker, opts ...Option) *Service {
	s := &Service{
		hub:               h,
		registry:          registry,
		tracker:           tracker,
		auth:              HandshakeAuthenticator{},
		requireMembership: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter("presence-gateway")
	}
	s.metrics = newMetrics(s.meter, registry)
	return s
}

// OnlineUserIDs returns the sorted ids of every online user.
func (s *Service) OnlineUserIDs() []string {
	return s.registry.OnlineUserIDs()
}

func (s *Service) IsOnline(userID string) bool {
	return s.registry.IsOnline(userID)
}

// Rooms lists the rooms userID's current connection has joined.
func (s *Service) Rooms(userID string) []string {
	return s.tracker.Rooms(userID)
}

type Stats struct {
	OnlineUsers int `json:"onlineUsers"`
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (s *Service) Stats() Stats {
	rooms, clients := s.hub.Stats()
	return Stats{
		OnlineUsers: s.registry.Len(),
		Connections: clients,
		Rooms:       rooms,
	}
}
