// internal/game/guess.go
package game

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/models"
)

// normalizeGuess lowercases and collapses internal whitespace so "  Red
// Apple " matches "red apple".
func normalizeGuess(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GuessWord lets the impostor try to name the secret word. Either way the
// game ends: a correct guess wins for the impostor, a wrong one for the crew.
func (s *Service) GuessWord(ctx context.Context, roomID, connID, guess string) (map[string]any, error) {
	if err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	impostor, err := s.store.GetImpostor(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if impostor == "" {
		return nil, apperr.Conflictf("no game in progress")
	}
	if connID != impostor {
		return nil, apperr.Forbiddenf("only the impostor may guess the word")
	}
	word, err := s.store.GetSecretWord(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if word == "" {
		return nil, apperr.Conflictf("no game in progress")
	}
	if strings.TrimSpace(guess) == "" {
		return nil, apperr.Validationf("guess is required")
	}
	winner := models.RoleCrew
	reason := "impostor_failed_guess"
	if normalizeGuess(guess) == normalizeGuess(word) {
		winner = models.RoleImpostor
		reason = "impostor_guessed"
	}
	result := map[string]any{
		"winner":   winner,
		"reason":   reason,
		"impostor": impostor,
		"guess":    guess,
		"word":     word,
	}
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "winner": winner}).Info("impostor guessed")
	return s.EndGame(ctx, roomID, result)
}
