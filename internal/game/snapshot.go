// internal/game/snapshot.go
package game

import (
	"context"

	"github.com/impostor-game/impostor/internal/models"
)

// GetTurnSnapshot assembles the full view of the current turn machinery for
// a client catching up after a reconnect or a page load. Returns phase
// "idle" when no turn state exists.
func (s *Service) GetTurnSnapshot(ctx context.Context, roomID string) (map[string]any, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	state, err := s.store.GetTurnState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	order, err := s.store.GetTurnOrder(ctx, roomID)
	if err != nil {
		return nil, err
	}
	words, err := s.store.GetTurnWords(ctx, roomID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetWordHistory(ctx, roomID)
	if err != nil {
		return nil, err
	}
	snapshot := map[string]any{
		"room_id": roomID,
		"order":   order,
		"words":   words,
		"history": history,
	}
	if state == nil {
		snapshot["phase"] = "idle"
		return snapshot, nil
	}
	snapshot["phase"] = state.Phase
	snapshot["round"] = state.Round
	snapshot["turn_index"] = state.TurnIndex
	snapshot["current_conn_id"] = state.CurrentConnID
	switch state.Phase {
	case models.PhaseActive:
		snapshot["remaining"] = clampRemaining(state.DeadlineTS)
	case models.PhasePaused:
		snapshot["remaining"] = state.TurnRemaining
		snapshot["grace_remaining"] = clampRemaining(state.GraceDeadlineTS)
	case models.PhaseVoting:
		votes, err := s.store.GetVotes(ctx, roomID)
		if err != nil {
			return nil, err
		}
		snapshot["remaining"] = clampRemaining(state.VoteDeadlineTS)
		snapshot["voters"] = state.Voters
		snapshot["votes"] = votes
		snapshot["tally"] = tallyVotes(votes)
	}
	return snapshot, nil
}

func clampRemaining(deadline float64) int {
	remaining := int(deadline - now())
	if remaining < 0 {
		return 0
	}
	return remaining
}
