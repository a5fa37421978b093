// Package config loads runtime settings from an optional .env file and the
// process environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	AllowedOrigins          []string
	MaxMessageSize          int64
	SendBuffer              int
	FanoutRequireMembership bool

	NATSURL           string
	NATSSubjectPrefix string

	OTLPEndpoint string
	ServiceName  string

	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Port:                    "8080",
		LogLevel:                "info",
		LogFormat:               "text",
		AllowedOrigins:          []string{"*"},
		MaxMessageSize:          4096,
		SendBuffer:              256,
		FanoutRequireMembership: true,
		NATSSubjectPrefix:       "presence",
		ServiceName:             "presence-gateway",
		ShutdownTimeout:         10 * time.Second,
	}
}

// Load reads .env when present, then the environment, and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables. Unset or unparsable
// values keep their defaults.
func FromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if size := os.Getenv("MAX_MESSAGE_SIZE"); size != "" {
		cfg.MaxMessageSize = parseInt64(size, cfg.MaxMessageSize)
	}
	if buf := os.Getenv("SEND_BUFFER"); buf != "" {
		cfg.SendBuffer = parseInt(buf, cfg.SendBuffer)
	}
	if require := os.Getenv("FANOUT_REQUIRE_MEMBERSHIP"); require != "" {
		cfg.FanoutRequireMembership = parseBool(require, cfg.FanoutRequireMembership)
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	if prefix := os.Getenv("NATS_SUBJECT_PREFIX"); prefix != "" {
		cfg.NATSSubjectPrefix = prefix
	}

	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	return &cfg
}

func (c *Config) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return errors.Errorf("PORT %q is not a valid port", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("LOG_FORMAT %q is not text or json", c.LogFormat)
	}
	if len(c.AllowedOrigins) == 0 {
		return errors.New("ALLOWED_ORIGINS lists no origins")
	}
	if c.NATSURL != "" && strings.Trim(c.NATSSubjectPrefix, ".") == "" {
		return errors.New("NATS_SUBJECT_PREFIX must be set when NATS_URL is")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(value string, defaultValue int64) int64 {
	if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

// parseDuration accepts Go durations ("15s") or whole seconds ("15").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
