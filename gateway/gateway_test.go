package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"presence-gateway/domain"
	"presence-gateway/hub"
	"presence-gateway/presence"
)

type mockConn struct {
	id       string
	received [][]byte
	closed   bool
	mu       sync.Mutex
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) frames(t *testing.T, event string) []domain.Frame {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Frame
	for _, raw := range m.received {
		var f domain.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type sinkRecorder struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (s *sinkRecorder) UserOnline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append(s.online, userID)
}

func (s *sinkRecorder) UserOffline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = append(s.offline, userID)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	opts = append([]Option{WithMeter(provider.Meter("test"))}, opts...)
	return New(hub.New(), presence.NewRegistry(), presence.NewTracker(), opts...), reader
}

func connect(t *testing.T, svc *Service, userID, connID string) (*domain.Session, *mockConn) {
	t.Helper()
	conn := &mockConn{id: connID}
	sess, err := svc.Establish(conn, domain.Handshake{UserID: userID})
	require.NoError(t, err)
	return sess, conn
}

func userIDs(t *testing.T, f domain.Frame) []string {
	t.Helper()
	var ids []string
	require.NoError(t, json.Unmarshal(f.Data, &ids))
	return ids
}

func userID(t *testing.T, f domain.Frame) string {
	t.Helper()
	var id string
	require.NoError(t, json.Unmarshal(f.Data, &id))
	return id
}

func metricValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				return total
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value
				}
			}
		}
	}
	return 0
}

func TestEstablish_RejectsMissingUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
	}{
		{name: "empty", userID: ""},
		{name: "whitespace only", userID: "  \t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, reader := newTestService(t)
			_, watcher := connect(t, svc, "watcher", "w1")
			conn := &mockConn{id: "c1"}

			sess, err := svc.Establish(conn, domain.Handshake{UserID: tt.userID})

			assert.Nil(t, sess)
			assert.ErrorIs(t, err, ErrHandshakeRejected)
			assert.Empty(t, conn.received)
			assert.Empty(t, watcher.frames(t, domain.EventUserOnline))
			assert.Equal(t, Stats{OnlineUsers: 1, Connections: 1, Rooms: 1}, svc.Stats())
			assert.Equal(t, int64(1), metricValue(t, reader, "gateway_handshakes_rejected_total"))
		})
	}
}

type denyAll struct{}

func (denyAll) Authenticate(domain.Handshake) (string, error) {
	return "", fmt.Errorf("token expired")
}

func TestEstablish_AuthenticatorErrorIsRejection(t *testing.T) {
	svc, _ := newTestService(t, WithAuthenticator(denyAll{}))

	_, err := svc.Establish(&mockConn{id: "c1"}, domain.Handshake{UserID: "alice"})

	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Contains(t, err.Error(), "token expired")
	assert.False(t, svc.IsOnline("alice"))
}

func TestEstablish_TrimsUserID(t *testing.T) {
	svc, _ := newTestService(t)

	sess, _ := connect(t, svc, "  alice ", "c1")

	assert.Equal(t, "alice", sess.UserID)
	assert.True(t, svc.IsOnline("alice"))
}

func TestEstablish_SnapshotAndOnlineBroadcast(t *testing.T) {
	svc, _ := newTestService(t)
	_, a := connect(t, svc, "A", "a1")
	_, b := connect(t, svc, "B", "b1")

	_, c := connect(t, svc, "C", "c1")

	snapshots := c.frames(t, domain.EventUsersOnline)
	require.Len(t, snapshots, 1)
	assert.Equal(t, []string{"A", "B", "C"}, userIDs(t, snapshots[0]))
	assert.Empty(t, c.frames(t, domain.EventUserOnline), "no self announcement")

	for _, peer := range []*mockConn{a, b} {
		online := peer.frames(t, domain.EventUserOnline)
		require.NotEmpty(t, online)
		assert.Equal(t, "C", userID(t, online[len(online)-1]))
	}
}

func TestEstablish_JoinsPersonalRoom(t *testing.T) {
	svc, _ := newTestService(t)

	sess, _ := connect(t, svc, "alice", "c1")

	assert.Equal(t, []string{"user:alice"}, svc.Rooms("alice"))
	assert.True(t, svc.hub.IsMember(PersonalRoom("alice"), sess.ConnID()))
	assert.False(t, svc.hub.IsMember("alice", sess.ConnID()))
}

func TestTerminate_StaleDisconnect(t *testing.T) {
	sink := &sinkRecorder{}
	svc, reader := newTestService(t, WithSink(sink))
	_, watcher := connect(t, svc, "W", "w1")

	sessA, _ := connect(t, svc, "U", "A")
	sessB, _ := connect(t, svc, "U", "B")

	svc.Terminate(sessA)

	assert.True(t, svc.IsOnline("U"))
	assert.Empty(t, watcher.frames(t, domain.EventUserOffline))
	assert.Empty(t, sink.offline)
	assert.Equal(t, int64(1), metricValue(t, reader, "gateway_stale_disconnects_total"))

	svc.Terminate(sessB)

	assert.False(t, svc.IsOnline("U"))
	offline := watcher.frames(t, domain.EventUserOffline)
	require.Len(t, offline, 1)
	assert.Equal(t, "U", userID(t, offline[0]))
	assert.Equal(t, []string{"U"}, sink.offline)

	svc.Terminate(sessB)
	assert.Len(t, watcher.frames(t, domain.EventUserOffline), 1, "repeated terminate stays silent")
}

func TestTerminate_ClearsState(t *testing.T) {
	svc, _ := newTestService(t)
	sess, _ := connect(t, svc, "alice", "c1")
	require.NoError(t, svc.Join(sess, "r1"))

	svc.Terminate(sess)

	assert.Empty(t, svc.Rooms("alice"))
	assert.Equal(t, Stats{}, svc.Stats())
}

func TestReconnect_ResetsMembershipMirror(t *testing.T) {
	svc, _ := newTestService(t)
	old, _ := connect(t, svc, "U", "A")
	require.NoError(t, svc.Join(old, "r1"))

	fresh, _ := connect(t, svc, "U", "B")

	assert.Equal(t, []string{"user:U"}, svc.Rooms("U"))
	assert.ErrorIs(t, svc.Join(old, "r2"), ErrSupersededConnection)
	assert.NoError(t, svc.Join(fresh, "r1"))
	assert.Equal(t, []string{"r1", "user:U"}, svc.Rooms("U"))
}

func TestJoin(t *testing.T) {
	tests := []struct {
		name    string
		rooms   []string
		wantErr error
		want    []string
	}{
		{name: "single join", rooms: []string{"r1"}, want: []string{"r1", "user:u"}},
		{name: "repeated join", rooms: []string{"r1", "r1"}, want: []string{"r1", "user:u"}},
		{name: "server room named like the user", rooms: []string{"u"}, want: []string{"u", "user:u"}},
		{name: "own personal room", rooms: []string{"user:u"}, wantErr: ErrReservedRoomID, want: []string{"user:u"}},
		{name: "empty room id", rooms: []string{""}, wantErr: ErrEmptyRoomID, want: []string{"user:u"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			sess, _ := connect(t, svc, "u", "c1")

			var err error
			for _, room := range tt.rooms {
				err = svc.Join(sess, room)
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, svc.Rooms("u"))
		})
	}
}

func TestJoin_CannotEnterAnotherUsersPersonalRoom(t *testing.T) {
	tests := []struct {
		name string
		room string
	}{
		{name: "bare user id is a separate server room", room: "alice"},
		{name: "personal room id", room: PersonalRoom("alice")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			alice, aliceConn := connect(t, svc, "alice", "a1")
			mallory, malloryConn := connect(t, svc, "mallory", "m1")

			_ = svc.Join(mallory, tt.room)

			assert.False(t, svc.hub.IsMember(PersonalRoom("alice"), mallory.ConnID()))

			delivered, err := svc.EmitToUser("alice", "notice", "secret")
			require.NoError(t, err)
			assert.Equal(t, 1, delivered)
			assert.Len(t, aliceConn.frames(t, "notice"), 1)
			assert.Empty(t, malloryConn.frames(t, "notice"))

			_, err = svc.Route(mallory, PersonalRoom("alice"), json.RawMessage(`"psst"`))
			assert.ErrorIs(t, err, ErrReservedRoomID)
			assert.Empty(t, aliceConn.frames(t, domain.EventMessage))
			assert.Equal(t, []string{"user:alice"}, svc.Rooms(alice.UserID))
		})
	}
}

func TestEstablish_UserIDMatchingServerRoom(t *testing.T) {
	svc, _ := newTestService(t)
	member, _ := connect(t, svc, "alice", "a1")
	require.NoError(t, svc.Join(member, "general"))

	_, general := connect(t, svc, "general", "g1")

	delivered, err := svc.Route(member, "general", json.RawMessage(`"hello room"`))

	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Empty(t, general.frames(t, domain.EventMessage))
	assert.Equal(t, 1, svc.hub.RoomSize("general"))
}

func TestRoute_PersonalRoomRejectedWhenPermissive(t *testing.T) {
	svc, _ := newTestService(t, WithRequireMembership(false))
	mallory, _ := connect(t, svc, "mallory", "m1")
	_, alice := connect(t, svc, "alice", "a1")

	delivered, err := svc.Route(mallory, PersonalRoom("alice"), json.RawMessage(`"psst"`))

	assert.ErrorIs(t, err, ErrReservedRoomID)
	assert.Zero(t, delivered)
	assert.Empty(t, alice.frames(t, domain.EventMessage))
}

func TestJoin_IdempotentDelivery(t *testing.T) {
	svc, _ := newTestService(t)
	sender, _ := connect(t, svc, "A", "a1")
	recv, recvConn := connect(t, svc, "B", "b1")
	require.NoError(t, svc.Join(sender, "R"))
	require.NoError(t, svc.Join(recv, "R"))
	require.NoError(t, svc.Join(recv, "R"))

	_, err := svc.Route(sender, "R", json.RawMessage(`"hi"`))
	require.NoError(t, err)

	assert.Len(t, recvConn.frames(t, domain.EventMessage), 1)
	assert.Equal(t, 2, svc.hub.RoomSize("R"))
}

func TestRoute_FanoutExclusivity(t *testing.T) {
	svc, reader := newTestService(t)
	a, aConn := connect(t, svc, "A", "a1")
	b, bConn := connect(t, svc, "B", "b1")
	c, cConn := connect(t, svc, "C", "c1")
	for _, sess := range []*domain.Session{a, b, c} {
		require.NoError(t, svc.Join(sess, "R"))
	}

	delivered, err := svc.Route(a, "R", json.RawMessage(`{"text":"P"}`))

	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Empty(t, aConn.frames(t, domain.EventMessage))
	for _, peer := range []*mockConn{bConn, cConn} {
		msgs := peer.frames(t, domain.EventMessage)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"text":"P"}`, string(msgs[0].Data))
	}
	assert.Equal(t, int64(2), metricValue(t, reader, "gateway_fanout_deliveries_total"))
}

func TestRoute_EmptyRoomIsNoop(t *testing.T) {
	tests := []struct {
		name    string
		require bool
		join    bool
		room    string
	}{
		{name: "permissive, nobody joined", require: false, room: "R2"},
		{name: "sender alone in room", require: true, join: true, room: "R2"},
		{name: "empty room id", require: true, room: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, WithRequireMembership(tt.require))
			sender, senderConn := connect(t, svc, "A", "a1")
			_, other := connect(t, svc, "B", "b1")
			if tt.join {
				require.NoError(t, svc.Join(sender, tt.room))
			}

			delivered, err := svc.Route(sender, tt.room, json.RawMessage(`"P"`))

			assert.NoError(t, err)
			assert.Zero(t, delivered)
			assert.Empty(t, senderConn.frames(t, domain.EventMessage))
			assert.Empty(t, other.frames(t, domain.EventMessage))
		})
	}
}

func TestRoute_Membership(t *testing.T) {
	tests := []struct {
		name          string
		require       bool
		wantErr       error
		wantDelivered int
	}{
		{name: "required", require: true, wantErr: ErrNotRoomMember, wantDelivered: 0},
		{name: "permissive", require: false, wantDelivered: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, WithRequireMembership(tt.require))
			outsider, _ := connect(t, svc, "A", "a1")
			member, _ := connect(t, svc, "B", "b1")
			require.NoError(t, svc.Join(member, "R"))

			delivered, err := svc.Route(outsider, "R", json.RawMessage(`"P"`))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantDelivered, delivered)
		})
	}
}

func TestEmitToUser(t *testing.T) {
	svc, _ := newTestService(t)
	_, alice := connect(t, svc, "alice", "a1")
	_, bob := connect(t, svc, "bob", "b1")

	delivered, err := svc.EmitToUser("alice", "notice", map[string]string{"text": "hi"})

	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	notices := alice.frames(t, "notice")
	require.Len(t, notices, 1)
	assert.JSONEq(t, `{"text":"hi"}`, string(notices[0].Data))
	assert.Empty(t, bob.frames(t, "notice"))

	delivered, err = svc.EmitToUser("nobody", "notice", "x")
	assert.NoError(t, err)
	assert.Zero(t, delivered)

	_, err = svc.EmitToRoom("", "notice", "x")
	assert.ErrorIs(t, err, ErrEmptyRoomID)
}

func TestMetrics_OnlineGauge(t *testing.T) {
	svc, reader := newTestService(t)
	connect(t, svc, "A", "a1")
	sess, _ := connect(t, svc, "B", "b1")

	assert.Equal(t, int64(2), metricValue(t, reader, "gateway_online_users"))
	assert.Equal(t, int64(2), metricValue(t, reader, "gateway_connections_accepted_total"))

	svc.Terminate(sess)
	assert.Equal(t, int64(1), metricValue(t, reader, "gateway_online_users"))
}

func TestSink_ReceivesOnline(t *testing.T) {
	sink := &sinkRecorder{}
	svc, _ := newTestService(t, WithSink(sink))

	connect(t, svc, "A", "a1")
	connect(t, svc, "A", "a2")

	assert.Equal(t, []string{"A", "A"}, sink.online)
}

func TestConcurrentConnectAndTerminate(t *testing.T) {
	svc, _ := newTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%10)
			conn := &mockConn{id: fmt.Sprintf("conn-%d", i)}
			sess, err := svc.Establish(conn, domain.Handshake{UserID: user})
			if err != nil {
				return
			}
			_ = svc.Join(sess, "lobby")
			_, _ = svc.Route(sess, "lobby", json.RawMessage(`"x"`))
			svc.Terminate(sess)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, svc.OnlineUserIDs())
	assert.Equal(t, Stats{}, svc.Stats())
}
