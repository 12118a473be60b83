// internal/handlers/game.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/impostor-game/impostor/internal/models"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID string `json:"conn_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.game.StartGame(r.Context(), chi.URLParam(r, "room_id"), req.ConnID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Result map[string]any `json:"result"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.game.EndGame(r.Context(), chi.URLParam(r, "room_id"), req.Result)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnID       string `json:"conn_id"`
		TargetConnID string `json:"target_conn_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	target := req.TargetConnID
	if target == "" {
		target = models.VoteSkip
	}
	result, err := s.game.CastVote(r.Context(), chi.URLParam(r, "room_id"), req.ConnID, target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTurnSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.game.GetTurnSnapshot(r.Context(), chi.URLParam(r, "room_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}
