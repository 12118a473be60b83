// internal/game/timers.go
package game

import (
	"context"
	"time"

	"github.com/impostor-game/impostor/internal/metrics"
	"github.com/impostor-game/impostor/internal/models"
)

// timerTask is a handle on one running timer goroutine.
type timerTask struct {
	cancel context.CancelFunc
}

// startTimer launches a timer task for the room in the given registry,
// cancelling any previous one first. At most one task per registry per room.
func (s *Service) startTimer(registry map[string]*timerTask, roomID string, run func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &timerTask{cancel: cancel}
	s.mu.Lock()
	if old, ok := registry[roomID]; ok {
		old.cancel()
	}
	registry[roomID] = task
	s.mu.Unlock()

	metrics.ActiveTimers.Inc()
	go func() {
		defer metrics.ActiveTimers.Dec()
		defer s.clearTimer(registry, roomID, task)
		run(ctx)
	}()
}

// stopTimer cancels the room's task in the registry, if any.
func (s *Service) stopTimer(registry map[string]*timerTask, roomID string) {
	s.mu.Lock()
	task, ok := registry[roomID]
	if ok {
		delete(registry, roomID)
	}
	s.mu.Unlock()
	if ok {
		task.cancel()
	}
}

// clearTimer drops the registry entry, but only if it still belongs to this
// task; a newer task may have replaced it already.
func (s *Service) clearTimer(registry map[string]*timerTask, roomID string, own *timerTask) {
	s.mu.Lock()
	if current, ok := registry[roomID]; ok && current == own {
		delete(registry, roomID)
	}
	s.mu.Unlock()
}

func (s *Service) startTurnTimer(roomID string) {
	s.startTimer(s.turnTimers, roomID, func(ctx context.Context) {
		s.runTurnTimer(ctx, roomID)
	})
}

func (s *Service) startGraceTimer(roomID string) {
	s.startTimer(s.graceTimers, roomID, func(ctx context.Context) {
		s.runGraceTimer(ctx, roomID)
	})
}

func (s *Service) startVotingTimer(roomID string) {
	s.startTimer(s.votingTimers, roomID, func(ctx context.Context) {
		s.runVotingTimer(ctx, roomID)
	})
}

// runTurnTimer ticks down the active turn. It re-reads the turn state every
// iteration so a pause or phase change simply makes it exit.
func (s *Service) runTurnTimer(ctx context.Context, roomID string) {
	for {
		state, err := s.turnStateForPhase(ctx, roomID, models.PhaseActive)
		if err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("turn timer read failed")
			return
		}
		if state == nil {
			return
		}
		remaining := int(state.DeadlineTS - now())
		if remaining <= 0 {
			s.advanceTurn(ctx, roomID, models.ReasonTimeout)
			return
		}
		s.broadcastTick(ctx, roomID, state, remaining, models.PhaseActive)
		if !s.sleepTick(ctx) {
			return
		}
	}
}

// runGraceTimer ticks down the reconnect window for a paused turn. On expiry
// the absent speaker forfeits the turn.
func (s *Service) runGraceTimer(ctx context.Context, roomID string) {
	for {
		state, err := s.turnStateForPhase(ctx, roomID, models.PhasePaused)
		if err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("grace timer read failed")
			return
		}
		if state == nil || state.GraceDeadlineTS == 0 {
			return
		}
		remaining := int(state.GraceDeadlineTS - now())
		if remaining <= 0 {
			lock := s.roomLock(roomID)
			lock.Lock()
			state, err := s.turnStateForPhase(ctx, roomID, models.PhasePaused)
			if err == nil && state != nil {
				s.advanceTurnLocked(ctx, roomID, state, models.ReasonSkipped)
			}
			lock.Unlock()
			return
		}
		s.broadcastTick(ctx, roomID, state, remaining, "grace")
		if !s.sleepTick(ctx) {
			return
		}
	}
}

// runVotingTimer ticks down the voting deadline and finalizes on expiry.
func (s *Service) runVotingTimer(ctx context.Context, roomID string) {
	for {
		state, err := s.turnStateForPhase(ctx, roomID, models.PhaseVoting)
		if err != nil {
			s.logger.WithError(err).WithField("room_id", roomID).Warn("voting timer read failed")
			return
		}
		if state == nil || state.VoteDeadlineTS == 0 {
			return
		}
		remaining := int(state.VoteDeadlineTS - now())
		if remaining <= 0 {
			lock := s.roomLock(roomID)
			lock.Lock()
			state, err := s.turnStateForPhase(ctx, roomID, models.PhaseVoting)
			if err == nil && state != nil {
				s.finalizeVotingLocked(ctx, roomID, state)
			}
			lock.Unlock()
			return
		}
		s.broadcastTick(ctx, roomID, state, remaining, models.PhaseVoting)
		if !s.sleepTick(ctx) {
			return
		}
	}
}

func (s *Service) broadcastTick(ctx context.Context, roomID string, state *models.TurnState, remaining int, phase string) {
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":       "turn_timer",
		"room_id":    roomID,
		"round":      state.Round,
		"turn_index": state.TurnIndex,
		"remaining":  remaining,
		"phase":      phase,
	}); err != nil {
		s.logger.WithError(err).WithField("room_id", roomID).Warn("tick broadcast failed")
	}
}

// sleepTick waits one tick interval; false means the task was cancelled.
func (s *Service) sleepTick(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.tick):
		return true
	}
}
