// internal/handlers/rooms.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/impostor-game/impostor/internal/apperr"
)

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	roomID, err := s.rooms.CreateRoom(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "name": req.Name})
}

func (s *Server) handleLobby(w http.ResponseWriter, r *http.Request) {
	state, err := s.rooms.GetLobbyState(r.Context(), chi.URLParam(r, "room_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID string `json:"conn_id"`
		Ready  bool   `json:"ready"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	state, err := s.rooms.SetReady(r.Context(), chi.URLParam(r, "room_id"), req.ConnID, req.Ready)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleNick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID       string `json:"conn_id"`
		TargetConnID string `json:"target_conn_id"`
		Nickname     string `json:"nickname"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	target := req.TargetConnID
	if target == "" {
		target = req.ConnID
	}
	state, err := s.rooms.SetNickname(r.Context(), chi.URLParam(r, "room_id"), req.ConnID, target, req.Nickname)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	connID, _ := req["conn_id"].(string)
	if connID == "" {
		s.writeError(w, apperr.Validationf("conn_id is required"))
		return
	}
	delete(req, "conn_id")
	state, err := s.rooms.UpdateSettings(r.Context(), chi.URLParam(r, "room_id"), connID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID       string `json:"conn_id"`
		TargetConnID string `json:"target_conn_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	state, err := s.rooms.KickPlayer(r.Context(), chi.URLParam(r, "room_id"), req.ConnID, req.TargetConnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID string `json:"conn_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	roomID := chi.URLParam(r, "room_id")
	if err := s.game.HandleDisconnect(r.Context(), roomID, req.ConnID); err != nil {
		s.writeError(w, err)
		return
	}
	token, err := s.rooms.Disconnect(r.Context(), roomID, req.ConnID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	snap, state, err := s.rooms.Reconnect(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.game.HandleReconnect(r.Context(), snap.RoomID, snap.ConnID, snap.Role); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}
