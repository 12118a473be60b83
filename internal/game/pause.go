// internal/game/pause.go
package game

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/models"
)

// HandleDisconnect pauses the current turn when the departing conn is the
// speaker. For anyone else mid-game this is a no-op: the turn machinery only
// cares about the active speaker.
func (s *Service) HandleDisconnect(ctx context.Context, roomID, connID string) error {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()
	state, err := s.turnStateForPhase(ctx, roomID, models.PhaseActive)
	if err != nil {
		return err
	}
	if state == nil || state.CurrentConnID != connID {
		return nil
	}
	return s.pauseTurnLocked(ctx, roomID, state)
}

// pauseTurnLocked freezes the speaker's remaining time and opens the
// reconnect grace window. Caller holds the room lock.
func (s *Service) pauseTurnLocked(ctx context.Context, roomID string, state *models.TurnState) error {
	remaining := int(state.DeadlineTS - now())
	if remaining < 0 {
		remaining = 0
	}
	paused := &models.TurnState{
		Phase:           models.PhasePaused,
		Round:           state.Round,
		TurnIndex:       state.TurnIndex,
		CurrentConnID:   state.CurrentConnID,
		TurnRemaining:   remaining,
		GraceDeadlineTS: now() + float64(state.TurnGrace),
		TurnDuration:    state.TurnDuration,
		TurnGrace:       state.TurnGrace,
		VoteDuration:    state.VoteDuration,
	}
	if err := s.store.SetTurnState(ctx, roomID, paused); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":       "turn_paused",
		"room_id":    roomID,
		"round":      state.Round,
		"turn_index": state.TurnIndex,
		"conn_id":    state.CurrentConnID,
		"remaining":  state.TurnGrace,
	}); err != nil {
		return err
	}
	s.stopTimer(s.turnTimers, roomID)
	s.startGraceTimer(roomID)
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "conn_id": state.CurrentConnID}).Info("turn paused for disconnect")
	return nil
}

// HandleReconnect restores a resumed conn's role, re-sends its private role
// payload, and resumes the turn if the paused speaker came back.
func (s *Service) HandleReconnect(ctx context.Context, roomID, connID, role string) error {
	if role != "" {
		if err := s.store.SetRole(ctx, roomID, connID, role); err != nil {
			return err
		}
		if role == models.RoleImpostor {
			s.notifier.SendToConn(ctx, connID, map[string]any{
				"type":    "role",
				"role":    models.RoleImpostor,
				"message": "you are impostor",
			})
		} else {
			word, err := s.store.GetSecretWord(ctx, roomID)
			if err != nil {
				return err
			}
			s.notifier.SendToConn(ctx, connID, map[string]any{
				"type": "role",
				"role": models.RoleCrew,
				"word": word,
			})
		}
	}
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()
	state, err := s.turnStateForPhase(ctx, roomID, models.PhasePaused)
	if err != nil {
		return err
	}
	if state == nil || state.CurrentConnID != connID {
		return nil
	}
	return s.resumeTurnLocked(ctx, roomID, state)
}

// resumeTurnLocked restarts a paused turn with the frozen remaining time. A
// turn with no time left is forfeited instead. Caller holds the room lock.
func (s *Service) resumeTurnLocked(ctx context.Context, roomID string, state *models.TurnState) error {
	if state.TurnRemaining <= 0 {
		return s.advanceTurnLocked(ctx, roomID, state, models.ReasonSkipped)
	}
	active := &models.TurnState{
		Phase:         models.PhaseActive,
		Round:         state.Round,
		TurnIndex:     state.TurnIndex,
		CurrentConnID: state.CurrentConnID,
		DeadlineTS:    now() + float64(state.TurnRemaining),
		TurnDuration:  state.TurnDuration,
		TurnGrace:     state.TurnGrace,
		VoteDuration:  state.VoteDuration,
	}
	if err := s.store.SetTurnState(ctx, roomID, active); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":       "turn_resumed",
		"room_id":    roomID,
		"round":      state.Round,
		"turn_index": state.TurnIndex,
		"conn_id":    state.CurrentConnID,
		"remaining":  state.TurnRemaining,
	}); err != nil {
		return err
	}
	s.stopTimer(s.graceTimers, roomID)
	s.startTurnTimer(roomID)
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "conn_id": state.CurrentConnID}).Info("turn resumed after reconnect")
	return nil
}
