package gateway

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"presence-gateway/presence"
)

type metrics struct {
	accepted   metric.Int64Counter
	rejected   metric.Int64Counter
	stale      metric.Int64Counter
	deliveries metric.Int64Counter
}

func newMetrics(meter metric.Meter, registry *presence.Registry) *metrics {
	m := &metrics{}
	var err error

	if m.accepted, err = meter.Int64Counter("gateway_connections_accepted_total",
		metric.WithDescription("Connections that passed the handshake")); err != nil {
		slog.Warn("create metric", "name", "gateway_connections_accepted_total", "error", err)
	}
	if m.rejected, err = meter.Int64Counter("gateway_handshakes_rejected_total",
		metric.WithDescription("Handshakes rejected for a missing user id")); err != nil {
		slog.Warn("create metric", "name", "gateway_handshakes_rejected_total", "error", err)
	}
	if m.stale, err = meter.Int64Counter("gateway_stale_disconnects_total",
		metric.WithDescription("Disconnects of superseded connections")); err != nil {
		slog.Warn("create metric", "name", "gateway_stale_disconnects_total", "error", err)
	}
	if m.deliveries, err = meter.Int64Counter("gateway_fanout_deliveries_total",
		metric.WithDescription("Room messages delivered to member connections")); err != nil {
		slog.Warn("create metric", "name", "gateway_fanout_deliveries_total", "error", err)
	}

	online, err := meter.Int64ObservableGauge("gateway_online_users",
		metric.WithDescription("Users with a registered connection"))
	if err == nil {
		_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(online, int64(registry.Len()))
			return nil
		}, online)
	}
	if err != nil {
		slog.Warn("create metric", "name", "gateway_online_users", "error", err)
	}

	return m
}

func (m *metrics) connectionAccepted() {
	if m.accepted != nil {
		m.accepted.Add(context.Background(), 1)
	}
}

func (m *metrics) handshakeRejected() {
	if m.rejected != nil {
		m.rejected.Add(context.Background(), 1)
	}
}

func (m *metrics) staleDisconnect() {
	if m.stale != nil {
		m.stale.Add(context.Background(), 1)
	}
}

func (m *metrics) fanout(delivered int) {
	if m.deliveries != nil && delivered > 0 {
		m.deliveries.Add(context.Background(), int64(delivered))
	}
}
