package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/nats-io/nats.go"

	"presence-gateway/api"
	"presence-gateway/config"
	"presence-gateway/events"
	"presence-gateway/gateway"
	"presence-gateway/hub"
	"presence-gateway/presence"
	"presence-gateway/protocol"
	"presence-gateway/telemetry"
	ws "presence-gateway/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, cfg.ServiceName)
	if err != nil {
		slog.Error("telemetry error", "error", err)
		os.Exit(1)
	}

	opts := []gateway.Option{gateway.WithRequireMembership(cfg.FanoutRequireMembership)}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = events.Connect(cfg.NATSURL, cfg.ServiceName)
		if err != nil {
			slog.Error("nats error", "error", err)
			os.Exit(1)
		}
		opts = append(opts, gateway.WithSink(events.NewNATSSink(nc, cfg.NATSSubjectPrefix)))
		slog.Info("publishing presence to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}

	svc := gateway.New(hub.New(), presence.NewRegistry(), presence.NewTracker(), opts...)
	gateway.Start(svc)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(svc, protocol.NewHandler(svc), ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}))
	api.Register(mux, gateway.Default)

	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(ctx, cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			slog.Info("server shutting down")
			return server.Shutdown(ctx)
		},
		"nats": func(ctx context.Context) error {
			if nc == nil {
				return nil
			}
			return nc.Drain()
		},
		"telemetry": func(ctx context.Context) error {
			return shutdownTelemetry(ctx)
		},
	})

	exitCode := <-wait
	slog.Info("server stopped", "exitCode", exitCode)
	os.Exit(exitCode)
}

func setupLogger(level, format string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
