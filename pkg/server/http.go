package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/walkie/pkg/model"
)

type saveUsernameRequest struct {
	Username string `json:"username"`
}

type usersResponse struct {
	Users []model.User `json:"users"`
}

// handleSaveUsername reserves a username in the durable presence list.
func (s *Server) handleSaveUsername(w http.ResponseWriter, r *http.Request) {
	var req saveUsernameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name, added, err := s.hub.Reserve(r.Context(), req.Username)
	if errors.Is(err, model.ErrInvalidUsername) {
		writeError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if err != nil {
		s.logger.Error("save username failed", "user", name, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to save username")
		return
	}
	if added {
		s.logger.Info("username reserved", "user", name)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Username saved successfully"})
}

// handleRecentlyJoined lists the durable presence entries.
func (s *Server) handleRecentlyJoined(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Presence().List())
}

// handleUsers lists the users connected right now with their recording state.
func (s *Server) handleUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, usersResponse{Users: s.hub.OnlineUsers()})
}

// handleRoot accepts WebSocket upgrades on any path and otherwise serves
// static assets when a static directory is configured.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	if s.cfg.StaticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.FileServer(http.Dir(s.cfg.StaticDir)).ServeHTTP(w, r)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
