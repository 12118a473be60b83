// internal/handlers/server.go
// Package handlers exposes the room and game services over HTTP and
// WebSocket. Routing is chi; sockets are coder/websocket.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/game"
	"github.com/impostor-game/impostor/internal/middleware"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/room"
	"github.com/impostor-game/impostor/internal/store"
)

// Server bundles the services behind the HTTP surface.
type Server struct {
	store   store.RoomStore
	rooms   *room.Service
	game    *game.Service
	manager *notify.Manager
	logger  *logrus.Logger
	ping    func(ctx context.Context) error
}

// NewServer wires the HTTP surface. ping checks the backing store for the
// health endpoint; nil means always healthy.
func NewServer(st store.RoomStore, rooms *room.Service, gm *game.Service, manager *notify.Manager, logger *logrus.Logger, ping func(ctx context.Context) error) *Server {
	return &Server{store: st, rooms: rooms, game: gm, manager: manager, logger: logger, ping: ping}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.LogMiddleware(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/rooms/", s.handleCreateRoom)
	r.Post("/rooms/reconnect", s.handleReconnect)
	r.Route("/rooms/{room_id}", func(r chi.Router) {
		r.Get("/lobby", s.handleLobby)
		r.Get("/turn", s.handleTurnSnapshot)
		r.Post("/ready", s.handleReady)
		r.Post("/nick", s.handleNick)
		r.Post("/settings", s.handleSettings)
		r.Post("/kick", s.handleKick)
		r.Post("/start", s.handleStart)
		r.Post("/end", s.handleEnd)
		r.Post("/vote", s.handleVote)
		r.Post("/disconnect", s.handleDisconnect)
		r.Get("/ws", s.handleWS)
	})
	return r
}

// writeJSON serializes v with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("response encode failed")
	}
}

// writeError maps the error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperr.ErrValidation):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("internal error")
	}
	s.writeJSON(w, status, map[string]any{"error": err.Error()})
}

// decodeJSON reads the request body into v; failures map to 422. An empty
// body leaves v at its zero value.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validationf("invalid JSON body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "down", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
