// Package api serves the read-only operational endpoints next to the
// websocket endpoint.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"presence-gateway/gateway"
)

// Provider returns the running gateway. main passes gateway.Default.
type Provider func() *gateway.Service

type presenceResponse struct {
	UserID string   `json:"userId"`
	Online bool     `json:"online"`
	Rooms  []string `json:"rooms"`
}

// Register mounts the endpoints on mux.
func Register(mux *http.ServeMux, svc Provider) {
	mux.HandleFunc("GET /health", Health)
	mux.HandleFunc("GET /stats", Stats(svc))
	mux.HandleFunc("GET /presence", Presence(svc))
}

func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func Stats(svc Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc().Stats())
	}
}

// Presence lists online users, or reports on one user when userId is given.
func Presence(svc Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := svc()

		userID := r.URL.Query().Get("userId")
		if userID == "" {
			writeJSON(w, http.StatusOK, map[string][]string{"online": s.OnlineUserIDs()})
			return
		}

		rooms := s.Rooms(userID)
		if rooms == nil {
			rooms = []string{}
		}
		writeJSON(w, http.StatusOK, presenceResponse{
			UserID: userID,
			Online: s.IsOnline(userID),
			Rooms:  rooms,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}
