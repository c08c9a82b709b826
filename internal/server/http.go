package server

import (
	"encoding/json"
	"net/http"

	"arena-server/internal/game"
	"arena-server/internal/network"
)

// HTTPHandler serves /ws (the line protocol over WebSocket), /healthz and
// /leaderboard
func (s *Server) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.ServeWS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	return mux
}

// ServeWS upgrades the request and runs a connection worker on it
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	t, err := network.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	if !s.track() {
		t.Close()
		return
	}
	defer s.wg.Done()
	s.handleTransport(t)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if s.isStopped() {
		status, code = "stopping", http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		Status string `json:"status"`
		Stats
	}{status, s.Stats()})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Data.Leaderboard(game.LeaderboardSize))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
