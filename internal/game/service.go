// internal/game/service.go
// Package game implements the realtime game engine: role assignment, the
// turn scheduler with suspend/resume, voting, the impostor guess and the
// broadcast contract. Each room runs under its own mutex; timer tasks are
// goroutines cancelled through contexts.
package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/metrics"
	"github.com/impostor-game/impostor/internal/models"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/store"
)

// Service owns the per-room game state machine. All state transitions for a
// room run under that room's mutex; timer tasks only take the mutex at the
// transition point, never while sleeping.
type Service struct {
	store    store.RoomStore
	notifier notify.Notifier
	logger   *logrus.Logger
	tick     time.Duration

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	turnTimers   map[string]*timerTask
	graceTimers  map[string]*timerTask
	votingTimers map[string]*timerTask
}

// NewService wires the engine. tickSeconds is the timer broadcast interval
// and must be positive.
func NewService(st store.RoomStore, notifier notify.Notifier, logger *logrus.Logger, tickSeconds int) (*Service, error) {
	if tickSeconds <= 0 {
		return nil, fmt.Errorf("timer_tick_seconds must be positive, got %d", tickSeconds)
	}
	return &Service{
		store:        st,
		notifier:     notifier,
		logger:       logger,
		tick:         time.Duration(tickSeconds) * time.Second,
		locks:        make(map[string]*sync.Mutex),
		turnTimers:   make(map[string]*timerTask),
		graceTimers:  make(map[string]*timerTask),
		votingTimers: make(map[string]*timerTask),
	}, nil
}

// now returns wall-clock Unix seconds with sub-second precision.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// roomLock returns the mutex serializing transitions for one room.
func (s *Service) roomLock(roomID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	return lock
}

func (s *Service) requireRoom(ctx context.Context, roomID string) error {
	name, err := s.store.GetRoomName(ctx, roomID)
	if err != nil {
		return fmt.Errorf("lookup room %s: %w", roomID, err)
	}
	if name == "" {
		return apperr.NotFoundf("room %s does not exist", roomID)
	}
	return nil
}

// turnStateForPhase reads the room's turn state and returns it only when it
// matches the expected phase. Timer loops re-read through this every
// iteration, which makes them safe against pause/resume races.
func (s *Service) turnStateForPhase(ctx context.Context, roomID, phase string) (*models.TurnState, error) {
	state, err := s.store.GetTurnState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil || state.Phase != phase {
		return nil, nil
	}
	return state, nil
}

// broadcastToRoom fans a payload out to the room's current membership.
func (s *Service) broadcastToRoom(ctx context.Context, roomID string, payload map[string]any) error {
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return err
	}
	s.notifier.Broadcast(ctx, conns, payload)
	return nil
}

// StartGame transitions the room into a running game: host-only, everyone
// ready, at least one player.
func (s *Service) StartGame(ctx context.Context, roomID, startedBy string) error {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return err
	}
	state, err := s.store.GetLobbyState(ctx, roomID)
	if err != nil {
		return err
	}
	if state == nil {
		return apperr.NotFoundf("room %s does not exist", roomID)
	}
	gameState, err := s.store.GetGameState(ctx, roomID)
	if err != nil {
		return err
	}
	if gameState == models.GameStateInProgress {
		return apperr.Conflictf("game already in progress")
	}
	if state.Host != startedBy {
		return apperr.Forbiddenf("only the host can start the game")
	}
	if len(state.Players) == 0 {
		return apperr.Conflictf("cannot start with no players")
	}
	for _, player := range state.Players {
		if !player.Ready {
			return apperr.Conflictf("all players must be ready")
		}
	}
	if err := s.store.SetGameState(ctx, roomID, models.GameStateInProgress); err != nil {
		return err
	}
	if err := s.store.ClearWordHistory(ctx, roomID); err != nil {
		return err
	}
	if err := s.AssignRoles(ctx, roomID); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":    "game_started",
		"room_id": roomID,
	}); err != nil {
		return err
	}
	metrics.GamesStarted.Inc()
	s.logger.WithField("room_id", roomID).Info("game started")
	return s.startRounds(ctx, roomID, state)
}

// AssignRoles picks the impostor and the secret word uniformly at random and
// delivers each member its private role payload.
func (s *Service) AssignRoles(ctx context.Context, roomID string) error {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return err
	}
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return apperr.Conflictf("no players in room")
	}
	sort.Strings(conns)
	word := pickSecretWord()
	impostor := pickImpostor(conns)
	if err := s.store.SetSecretWord(ctx, roomID, word); err != nil {
		return err
	}
	if err := s.store.SetImpostor(ctx, roomID, impostor); err != nil {
		return err
	}
	for _, connID := range conns {
		if connID == impostor {
			if err := s.store.SetRole(ctx, roomID, connID, models.RoleImpostor); err != nil {
				return err
			}
			s.notifier.SendToConn(ctx, connID, map[string]any{
				"type":    "role",
				"role":    models.RoleImpostor,
				"message": "you are impostor",
			})
		} else {
			if err := s.store.SetRole(ctx, roomID, connID, models.RoleCrew); err != nil {
				return err
			}
			s.notifier.SendToConn(ctx, connID, map[string]any{
				"type": "role",
				"role": models.RoleCrew,
				"word": word,
			})
		}
	}
	return nil
}

// EndGame stores the result, notifies everyone, resets ready flags,
// re-broadcasts the lobby and wipes all per-game state and timers.
func (s *Service) EndGame(ctx context.Context, roomID string, result map[string]any) (map[string]any, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	stored, err := s.store.EndGame(ctx, roomID, result)
	if err != nil {
		return nil, err
	}
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast(ctx, conns, map[string]any{
		"type":    "game_ended",
		"room_id": roomID,
		"result":  stored,
	})
	for _, connID := range conns {
		if err := s.store.SetReady(ctx, roomID, connID, false); err != nil {
			return nil, err
		}
	}
	lobbyState, err := s.store.GetLobbyState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if lobbyState != nil {
		s.notifier.Broadcast(ctx, conns, map[string]any{
			"type":    "lobby_state",
			"room_id": roomID,
			"state":   lobbyState,
		})
	}
	if err := s.store.ClearRoles(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.ClearTurnState(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.ClearVotes(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.ClearTurnWords(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.ClearWordHistory(ctx, roomID); err != nil {
		return nil, err
	}
	s.stopTimer(s.turnTimers, roomID)
	s.stopTimer(s.graceTimers, roomID)
	s.stopTimer(s.votingTimers, roomID)
	reason, _ := stored["reason"].(string)
	metrics.GamesEnded.WithLabelValues(reason).Inc()
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "reason": reason}).Info("game ended")
	return stored, nil
}
