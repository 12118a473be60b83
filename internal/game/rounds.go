// internal/game/rounds.go
package game

import (
	"context"
	"sort"
	"strings"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/models"
)

// TurnResult is returned from SubmitTurnWord.
type TurnResult struct {
	Word      string `json:"word"`
	Round     int    `json:"round"`
	TurnIndex int    `json:"turn_index"`
}

// startRounds shuffles the speaking order once per game, persists it, and
// kicks off round 1 with the durations frozen from the room settings.
func (s *Service) startRounds(ctx context.Context, roomID string, lobbyState *models.LobbyState) error {
	order := make([]string, 0, len(lobbyState.Players))
	for connID := range lobbyState.Players {
		order = append(order, connID)
	}
	if len(order) == 0 {
		return apperr.Conflictf("no players in room")
	}
	sort.Strings(order)
	cryptoShuffle(order)
	if err := s.store.SetTurnOrder(ctx, roomID, order); err != nil {
		return err
	}
	bounds := models.SettingBounds
	turnDuration := models.IntSetting(lobbyState.Settings, "turn_duration", bounds["turn_duration"].Default)
	turnGrace := models.IntSetting(lobbyState.Settings, "turn_grace", bounds["turn_grace"].Default)
	voteDuration := models.IntSetting(lobbyState.Settings, "round_time", bounds["round_time"].Default)
	return s.startRound(ctx, roomID, 1, order, turnDuration, turnGrace, voteDuration)
}

// startRound resets the per-round words, persists the round's first turn and
// announces it.
func (s *Service) startRound(ctx context.Context, roomID string, round int, order []string, turnDuration, turnGrace, voteDuration int) error {
	if len(order) == 0 {
		return apperr.Conflictf("no players in room")
	}
	if err := s.store.ClearTurnWords(ctx, roomID); err != nil {
		return err
	}
	state := &models.TurnState{
		Phase:         models.PhaseActive,
		Round:         round,
		TurnIndex:     0,
		CurrentConnID: order[0],
		DeadlineTS:    now() + float64(turnDuration),
		TurnDuration:  turnDuration,
		TurnGrace:     turnGrace,
		VoteDuration:  voteDuration,
	}
	if err := s.store.SetTurnState(ctx, roomID, state); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":          "round_started",
		"room_id":       roomID,
		"round":         round,
		"order":         order,
		"turn_duration": turnDuration,
	}); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":          "turn_started",
		"room_id":       roomID,
		"round":         round,
		"turn_index":    0,
		"conn_id":       order[0],
		"turn_duration": turnDuration,
	}); err != nil {
		return err
	}
	s.startTurnTimer(roomID)
	return nil
}

// startNextRound begins round+1 with the same persisted order and durations.
func (s *Service) startNextRound(ctx context.Context, roomID string, state *models.TurnState) error {
	order, err := s.store.GetTurnOrder(ctx, roomID)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}
	if err := s.store.ClearVotes(ctx, roomID); err != nil {
		return err
	}
	return s.startRound(ctx, roomID, state.Round+1, order, state.TurnDuration, state.TurnGrace, state.VoteDuration)
}

// advanceTurn acquires the room lock, re-checks the phase, and advances.
// Timer expiry paths come through here.
func (s *Service) advanceTurn(ctx context.Context, roomID string, reason models.TurnEndReason) {
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()
	state, err := s.turnStateForPhase(ctx, roomID, models.PhaseActive)
	if err != nil {
		s.logger.WithError(err).WithField("room_id", roomID).Warn("advance turn read failed")
		return
	}
	if state == nil {
		return
	}
	if err := s.advanceTurnLocked(ctx, roomID, state, reason); err != nil {
		s.logger.WithError(err).WithField("room_id", roomID).Warn("advance turn failed")
	}
}

// advanceTurnLocked ends the current turn and either starts the next one or
// enters voting. Caller holds the room lock.
func (s *Service) advanceTurnLocked(ctx context.Context, roomID string, state *models.TurnState, reason models.TurnEndReason) error {
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":       "turn_ended",
		"room_id":    roomID,
		"round":      state.Round,
		"turn_index": state.TurnIndex,
		"conn_id":    state.CurrentConnID,
		"reason":     string(reason),
	}); err != nil {
		return err
	}
	order, err := s.store.GetTurnOrder(ctx, roomID)
	if err != nil {
		return err
	}
	next := state.TurnIndex + 1
	if next >= len(order) {
		return s.startVotingLocked(ctx, roomID, state)
	}
	newState := &models.TurnState{
		Phase:         models.PhaseActive,
		Round:         state.Round,
		TurnIndex:     next,
		CurrentConnID: order[next],
		DeadlineTS:    now() + float64(state.TurnDuration),
		TurnDuration:  state.TurnDuration,
		TurnGrace:     state.TurnGrace,
		VoteDuration:  state.VoteDuration,
	}
	if err := s.store.SetTurnState(ctx, roomID, newState); err != nil {
		return err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":          "turn_started",
		"room_id":       roomID,
		"round":         state.Round,
		"turn_index":    next,
		"conn_id":       order[next],
		"turn_duration": state.TurnDuration,
	}); err != nil {
		return err
	}
	s.startTurnTimer(roomID)
	return nil
}

// SubmitTurnWord records the current speaker's clue word and advances the
// turn with reason "spoken".
func (s *Service) SubmitTurnWord(ctx context.Context, roomID, connID, word string) (*TurnResult, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	cleaned := strings.TrimSpace(word)
	if cleaned == "" {
		return nil, apperr.Validationf("word is required")
	}
	lock := s.roomLock(roomID)
	lock.Lock()
	defer lock.Unlock()
	state, err := s.turnStateForPhase(ctx, roomID, models.PhaseActive)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apperr.Conflictf("turn is not active")
	}
	if state.CurrentConnID != connID {
		return nil, apperr.Forbiddenf("not your turn")
	}
	entry := models.WordEntry{
		Word:      cleaned,
		ConnID:    connID,
		Round:     state.Round,
		TurnIndex: state.TurnIndex,
	}
	if err := s.store.AppendTurnWord(ctx, roomID, entry); err != nil {
		return nil, err
	}
	if err := s.store.AppendWordHistory(ctx, roomID, entry); err != nil {
		return nil, err
	}
	if err := s.broadcastToRoom(ctx, roomID, map[string]any{
		"type":       "turn_word_submitted",
		"room_id":    roomID,
		"word":       entry.Word,
		"conn_id":    entry.ConnID,
		"round":      entry.Round,
		"turn_index": entry.TurnIndex,
	}); err != nil {
		return nil, err
	}
	if err := s.advanceTurnLocked(ctx, roomID, state, models.ReasonSpoken); err != nil {
		return nil, err
	}
	return &TurnResult{Word: cleaned, Round: state.Round, TurnIndex: state.TurnIndex}, nil
}

// HandleTurnMessage treats any chat frame from the current speaker as
// "I've spoken". A no-op for anyone else or outside an active turn.
func (s *Service) HandleTurnMessage(ctx context.Context, roomID, connID string) error {
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
	return s.advanceTurnLocked(ctx, roomID, state, models.ReasonSpoken)
}
