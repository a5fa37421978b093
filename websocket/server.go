package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"presence-gateway/domain"
)

// Gate establishes and terminates sessions for upgraded links.
type Gate interface {
	Establish(conn domain.Connection, hs domain.Handshake) (*domain.Session, error)
	Terminate(sess *domain.Session)
}

type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	SendBuffer     int
}

// Server upgrades HTTP requests on the websocket endpoint into sessions.
type Server struct {
	gate     Gate
	handler  domain.MessageHandler
	upgrader websocket.Upgrader
	opts     Options

	origins  map[string]struct{}
	allowAll bool
}

func NewServer(gate Gate, handler domain.MessageHandler, opts Options) *Server {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 4096
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}

	s := &Server{gate: gate, handler: handler, opts: opts}
	s.origins, s.allowAll = normalizeOrigins(opts.AllowedOrigins)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConn(ws, s.opts.SendBuffer, s.opts.MaxMessageSize)

	sess, err := s.gate.Establish(conn, handshakeFrom(r))
	if err != nil {
		conn.reject("user id required")
		return
	}

	conn.Start(sess, s.handler, s.gate.Terminate)
}

// handshakeFrom reads the user id from the userId query parameter, falling
// back to the X-User-Id header.
func handshakeFrom(r *http.Request) domain.Handshake {
	userID := r.URL.Query().Get("userId")
	if strings.TrimSpace(userID) == "" {
		userID = r.Header.Get("X-User-Id")
	}
	return domain.Handshake{UserID: userID}.Normalized()
}

// checkOrigin admits requests without an Origin header (non-browser
// clients) and browser requests whose origin is on the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAll {
		return true
	}

	normalized, ok := normalizeOrigin(origin)
	if ok {
		if _, allowed := s.origins[normalized]; allowed {
			return true
		}
	}

	slog.Warn("blocked websocket origin", "origin", origin)
	return false
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
			continue
		}

		n, ok := normalizeOrigin(trimmed)
		if !ok {
			slog.Warn("ignoring invalid origin", "origin", origin)
			continue
		}
		normalized[n] = struct{}{}
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
