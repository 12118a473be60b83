// internal/game/voting.go
package game

import (
	"context"
	"sort"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/metrics"
	"github.com/impostor-game/impostor/internal/models"
)

// VoteResult is returned from CastVote: the votes cast so far as a
// voter-to-target mapping, and the tally per target.
type VoteResult struct {
	Votes map[string]string `json:"votes"`
	Tally map[string]int    `json:"tally"`
}

// startVotingLocked transitions the room into the voting phase after the last
// turn of a round. Caller holds the room lock.
func (s *Service) startVotingLocked(ctx context.Context, roomID string, state *models.TurnState) error {
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}
	sort.Strings(conns)
	voting := &models.TurnState{
		Phase:          models.PhaseVoting,
		Round:          state.Round,
		TurnIndex:      state.TurnIndex,
		VoteDeadlineTS: now() + float64(state.VoteDuration),
		Voters:         conns,
		TurnDuration:   state.TurnDuration,
		TurnGrace:      state.TurnGrace,
		VoteDuration:   state.VoteDuration,
	}
	if err := s.store.SetTurnState(ctx, roomID, voting); err != nil {
		return err
	}
	if err := s.store.ClearVotes(ctx, roomID); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":    "round_ended",
		"room_id": roomID,
		"round":   state.Round,
	}); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":          "voting_started",
		"room_id":       roomID,
		"round":         state.Round,
		"voters":        conns,
		"vote_duration": state.VoteDuration,
	}); err != nil {
		return err
	}
	s.stopTimer(s.turnTimers, roomID)
	s.stopTimer(s.graceTimers, roomID)
	s.startVotingTimer(roomID)
	return nil
}

// CastVote records one voter's choice. A target of "skip" abstains. Voting
// finalizes early once every voter has cast.
func (s *Service) CastVote(ctx context.Context, roomID, voter, target string) (*VoteResult, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()
	state, err := s.turnStateForPhase(ctx, roomID, models.PhaseVoting)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apperr.Conflictf("voting is not open")
	}
	if now() >= state.VoteDeadlineTS {
		if err := s.finalizeVotingLocked(ctx, roomID, state); err != nil {
			return nil, err
		}
		return nil, apperr.Conflictf("voting has closed")
	}
	if !contains(state.Voters, voter) {
		return nil, apperr.Forbiddenf("you are not a voter in this round")
	}
	if target != models.VoteSkip && !contains(state.Voters, target) {
		return nil, apperr.Conflictf("vote target %s is not a voter", target)
	}
	votes, err := s.store.GetVotes(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, dup := votes[voter]; dup {
		return nil, apperr.Conflictf("you already voted this round")
	}
	if err := s.store.SetVote(ctx, roomID, voter, target); err != nil {
		return nil, err
	}
	votes[voter] = target
	tally := tallyVotes(votes)
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":    "vote_cast",
		"room_id": roomID,
		"round":   state.Round,
		"voter":   voter,
		"target":  target,
		"votes":   votes,
		"tally":   tally,
	}); err != nil {
		return nil, err
	}
	metrics.VotesCast.Inc()
	if len(votes) >= len(state.Voters) {
		if err := s.finalizeVotingLocked(ctx, roomID, state); err != nil {
			return nil, err
		}
	}
	return &VoteResult{Votes: votes, Tally: tally}, nil
}

// tallyVotes counts votes per target, skips included under "skip".
func tallyVotes(votes map[string]string) map[string]int {
	tally := make(map[string]int, len(votes))
	for _, target := range votes {
		tally[target]++
	}
	return tally
}

// finalizeVotingLocked resolves the round's vote. A strict majority against a
// player eliminates them and ends the game; anything else starts the next
// round. Caller holds the room lock.
func (s *Service) finalizeVotingLocked(ctx context.Context, roomID string, state *models.TurnState) error {
	s.stopTimer(s.votingTimers, roomID)
	votes, err := s.store.GetVotes(ctx, roomID)
	if err != nil {
		return err
	}
	tally := tallyVotes(votes)
	majority := len(state.Voters)/2 + 1
	votedOut := ""
	for _, candidate := range state.Voters {
		if tally[candidate] >= majority {
			votedOut = candidate
			break
		}
	}
	if votedOut == "" {
		result := map[string]any{
			"winner": nil,
			"reason": "no_majority",
			"tally":  tally,
			"votes":  votes,
		}
		if err := s.broadcastToRoom(ctx, roomID, map[string]any{
			"type":    "voting_result",
			"room_id": roomID,
			"round":   state.Round,
			"result":  result,
		}); err != nil {
			return err
		}
		if err := s.store.ClearVotes(ctx, roomID); err != nil {
			return err
		}
		return s.startNextRound(ctx, roomID, state)
	}
	impostor, err := s.store.GetImpostor(ctx, roomID)
	if err != nil {
		return err
	}
	word, err := s.store.GetSecretWord(ctx, roomID)
	if err != nil {
		return err
	}
	winner := models.RoleImpostor
	reason := "crew_eliminated"
	if votedOut == impostor {
		winner = models.RoleCrew
		reason = "impostor_eliminated"
	}
	result := map[string]any{
		"winner":    winner,
		"reason":    reason,
		"voted_out": votedOut,
		"impostor":  impostor,
		"word":      word,
		"tally":     tally,
		"votes":     votes,
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":    "voting_result",
		"room_id": roomID,
		"round":   state.Round,
		"result":  result,
	}); err != nil {
		return err
	}
	_, err = s.EndGame(ctx, roomID, result)
	return err
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
