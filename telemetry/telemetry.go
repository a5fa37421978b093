// Package telemetry sets up the OpenTelemetry meter provider that the
// gateway's instruments report through.
package telemetry

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(context.Context) error

// Init installs a global meter provider exporting over OTLP/gRPC to
// endpoint. With an empty endpoint nothing is installed and instruments
// stay no-ops.
func Init(ctx context.Context, endpoint, serviceName string) (Shutdown, error) {
	if endpoint == "" {
		slog.Info("OpenTelemetry disabled, no OTLP endpoint configured")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlpmetricgrpc.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create metric exporter")
	}

	mp, err := NewMeterProvider(ctx, serviceName, sdkmetric.NewPeriodicReader(exporter))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(mp)

	slog.Info("OpenTelemetry initialized", "service", serviceName, "endpoint", endpoint)
	return mp.Shutdown, nil
}

// NewMeterProvider builds a meter provider tagged with serviceName that
// reports through reader.
func NewMeterProvider(ctx context.Context, serviceName string, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create resource")
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	), nil
}
