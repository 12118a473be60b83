// internal/game/service_test.go
package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/models"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/store"
	"github.com/sirupsen/logrus"
)

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	recorder *notify.Recorder
	roomID   string
	conns    []string
}

func newFixture(t *testing.T, players int, settings map[string]any) *fixture {
	t.Helper()
	st := store.NewMemoryStore(nil)
	rec := notify.NewRecorder()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc, err := NewService(st, rec, logger, 1)
	require.NoError(t, err)
	svc.tick = 10 * time.Millisecond

	ctx := context.Background()
	roomID := "ROOM1234"
	require.NoError(t, st.CreateRoom(ctx, roomID, "test room"))
	if settings != nil {
		require.NoError(t, st.SetRoomSettings(ctx, roomID, settings))
	}
	conns := []string{"aaaa", "bbbb", "cccc", "dddd"}[:players]
	for _, connID := range conns {
		require.NoError(t, st.AddConn(ctx, roomID, connID, "nick-"+connID, true))
	}
	return &fixture{svc: svc, store: st, recorder: rec, roomID: roomID, conns: conns}
}

func (f *fixture) host(t *testing.T) string {
	t.Helper()
	host, err := f.store.GetHost(context.Background(), f.roomID)
	require.NoError(t, err)
	require.NotEmpty(t, host)
	return host
}

func (f *fixture) turnState(t *testing.T) *models.TurnState {
	t.Helper()
	state, err := f.store.GetTurnState(context.Background(), f.roomID)
	require.NoError(t, err)
	return state
}

func (f *fixture) order(t *testing.T) []string {
	t.Helper()
	order, err := f.store.GetTurnOrder(context.Background(), f.roomID)
	require.NoError(t, err)
	return order
}

func TestNewServiceRejectsNonPositiveTick(t *testing.T) {
	st := store.NewMemoryStore(nil)
	rec := notify.NewRecorder()
	logger := logrus.New()

	_, err := NewService(st, rec, logger, 0)
	require.Error(t, err)
	_, err = NewService(st, rec, logger, -1)
	require.Error(t, err)
}

func TestStartGameAuthorization(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	host := f.host(t)
	other := f.conns[0]
	if other == host {
		other = f.conns[1]
	}

	err := f.svc.StartGame(ctx, f.roomID, other)
	require.ErrorIs(t, err, apperr.ErrForbidden, "non-host start must be rejected")

	require.NoError(t, f.store.SetReady(ctx, f.roomID, other, false))
	err = f.svc.StartGame(ctx, f.roomID, host)
	require.ErrorIs(t, err, apperr.ErrConflict, "unready player must block the start")

	require.NoError(t, f.store.SetReady(ctx, f.roomID, other, true))
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, host))

	state, err := f.store.GetGameState(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, models.GameStateInProgress, state)
	require.NotEmpty(t, f.recorder.OfType("game_started"))

	err = f.svc.StartGame(ctx, f.roomID, host)
	require.Error(t, err, "starting twice should not succeed silently")
}

func TestStartGameUnknownRoom(t *testing.T) {
	f := newFixture(t, 2, nil)
	err := f.svc.StartGame(context.Background(), "NOPE0000", "aaaa")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAssignRolesExactlyOneImpostor(t *testing.T) {
	f := newFixture(t, 4, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.AssignRoles(ctx, f.roomID))

	impostor, err := f.store.GetImpostor(ctx, f.roomID)
	require.NoError(t, err)
	require.Contains(t, f.conns, impostor, "impostor must be a member")

	word, err := f.store.GetSecretWord(ctx, f.roomID)
	require.NoError(t, err)
	require.Contains(t, WordPool, word)

	for _, connID := range f.conns {
		payloads := f.recorder.For(connID)
		require.Len(t, payloads, 1)
		role := payloads[0]
		require.Equal(t, "role", role["type"])
		if connID == impostor {
			require.Equal(t, models.RoleImpostor, role["role"])
			require.NotContains(t, role, "word", "impostor must not see the word")
		} else {
			require.Equal(t, models.RoleCrew, role["role"])
			require.Equal(t, word, role["word"])
		}
	}
}

func TestSubmitTurnWordAdvancesTurn(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))

	state := f.turnState(t)
	require.NotNil(t, state)
	require.Equal(t, models.PhaseActive, state.Phase)
	require.Equal(t, 1, state.Round)
	require.Equal(t, 0, state.TurnIndex)
	order := f.order(t)
	require.Equal(t, order[0], state.CurrentConnID)

	_, err := f.svc.SubmitTurnWord(ctx, f.roomID, order[1], "sneaky")
	require.ErrorIs(t, err, apperr.ErrForbidden, "only the current speaker may submit")

	_, err = f.svc.SubmitTurnWord(ctx, f.roomID, order[0], "   ")
	require.ErrorIs(t, err, apperr.ErrValidation)

	result, err := f.svc.SubmitTurnWord(ctx, f.roomID, order[0], "  breeze ")
	require.NoError(t, err)
	require.Equal(t, "breeze", result.Word)
	require.Equal(t, 0, result.TurnIndex)

	state = f.turnState(t)
	require.Equal(t, 1, state.TurnIndex)
	require.Equal(t, order[1], state.CurrentConnID)

	words, err := f.store.GetTurnWords(ctx, f.roomID)
	require.NoError(t, err)
	require.Len(t, words, 1)
	require.Equal(t, "breeze", words[0].Word)
	require.Equal(t, order[0], words[0].ConnID)
}

func TestTurnEndedPrecedesNextTurnStarted(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)

	_, err := f.svc.SubmitTurnWord(ctx, f.roomID, order[0], "one")
	require.NoError(t, err)
	_, err = f.svc.SubmitTurnWord(ctx, f.roomID, order[1], "two")
	require.NoError(t, err)

	types := f.recorder.Types()
	lastEnded, lastStarted := -1, -1
	startedCount := 0
	for i, typ := range types {
		switch typ {
		case "turn_ended":
			lastEnded = i
		case "turn_started":
			lastStarted = i
			startedCount++
			if startedCount > 1 {
				require.Less(t, lastEnded, lastStarted)
				require.Greater(t, lastEnded, -1, "turn_ended must precede the next turn_started")
			}
		}
	}
	require.Equal(t, 3, startedCount)
}

func TestTimeoutCascadesIntoVoting(t *testing.T) {
	f := newFixture(t, 3, map[string]any{"turn_duration": 0, "round_time": 60, "turn_grace": 60})
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))

	require.Eventually(t, func() bool {
		state := f.turnState(t)
		return state != nil && state.Phase == models.PhaseVoting
	}, 3*time.Second, 10*time.Millisecond, "zero-length turns should cascade into voting")

	ended := f.recorder.OfType("turn_ended")
	require.Len(t, ended, 3)
	for _, payload := range ended {
		require.Equal(t, "timeout", payload["reason"])
	}
	require.Len(t, f.recorder.OfType("round_ended"), 1)
	voting := f.recorder.OfType("voting_started")
	require.Len(t, voting, 1)
	require.ElementsMatch(t, f.conns, voting[0]["voters"])
}

func startAndReachVoting(t *testing.T, f *fixture) []string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)
	for _, speaker := range order {
		_, err := f.svc.SubmitTurnWord(ctx, f.roomID, speaker, "clue")
		require.NoError(t, err)
	}
	state := f.turnState(t)
	require.NotNil(t, state)
	require.Equal(t, models.PhaseVoting, state.Phase)
	return order
}

func TestVotingMajorityEliminatesAndEndsGame(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	startAndReachVoting(t, f)

	// Pin the impostor so the outcome is deterministic.
	target := f.conns[1]
	require.NoError(t, f.store.SetImpostor(ctx, f.roomID, target))

	_, err := f.svc.CastVote(ctx, f.roomID, "zzzz", target)
	require.ErrorIs(t, err, apperr.ErrForbidden, "non-voter must not vote")

	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[0], "zzzz")
	require.ErrorIs(t, err, apperr.ErrConflict, "target must be a voter or skip")

	result, err := f.svc.CastVote(ctx, f.roomID, f.conns[0], target)
	require.NoError(t, err)
	require.Equal(t, map[string]string{f.conns[0]: target}, result.Votes)

	snapshot, err := f.svc.GetTurnSnapshot(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, map[string]string{f.conns[0]: target}, snapshot["votes"])

	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[0], target)
	require.ErrorIs(t, err, apperr.ErrConflict, "duplicate vote must be rejected")

	result, err = f.svc.CastVote(ctx, f.roomID, f.conns[2], target)
	require.NoError(t, err)
	require.Equal(t, map[string]string{f.conns[0]: target, f.conns[2]: target}, result.Votes)
	require.Equal(t, 2, result.Tally[target])

	// The last voter completes the vote and triggers finalization.
	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[1], models.VoteSkip)
	require.NoError(t, err)

	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[1], models.VoteSkip)
	require.ErrorIs(t, err, apperr.ErrConflict, "voting is closed after finalization")

	allVotes := map[string]string{
		f.conns[0]: target,
		f.conns[1]: models.VoteSkip,
		f.conns[2]: target,
	}
	casts := f.recorder.OfType("vote_cast")
	require.Len(t, casts, 3)
	require.Equal(t, map[string]string{f.conns[0]: target}, casts[0]["votes"])
	require.Equal(t, allVotes, casts[2]["votes"])

	results := f.recorder.OfType("voting_result")
	require.Len(t, results, 1)
	payload := results[0]["result"].(map[string]any)
	require.Equal(t, target, payload["voted_out"])
	require.Equal(t, models.RoleCrew, payload["winner"])
	require.Equal(t, "impostor_eliminated", payload["reason"])
	require.Equal(t, allVotes, payload["votes"])

	gameState, err := f.store.GetGameState(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, models.GameStateEnded, gameState)
	require.Len(t, f.recorder.OfType("game_ended"), 1)

	types := f.recorder.Types()
	resultIdx, endedIdx := -1, -1
	for i, typ := range types {
		if typ == "voting_result" {
			resultIdx = i
		}
		if typ == "game_ended" {
			endedIdx = i
		}
	}
	require.Less(t, resultIdx, endedIdx, "voting_result must precede game_ended")
}

func TestVotingCrewEliminatedImpostorWins(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	startAndReachVoting(t, f)

	target := f.conns[1]
	impostor := f.conns[0]
	require.NoError(t, f.store.SetImpostor(ctx, f.roomID, impostor))

	_, err := f.svc.CastVote(ctx, f.roomID, f.conns[0], target)
	require.NoError(t, err)
	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[2], target)
	require.NoError(t, err)
	_, err = f.svc.CastVote(ctx, f.roomID, f.conns[1], models.VoteSkip)
	require.NoError(t, err)

	results := f.recorder.OfType("voting_result")
	require.Len(t, results, 1)
	payload := results[0]["result"].(map[string]any)
	require.Equal(t, models.RoleImpostor, payload["winner"])
	require.Equal(t, "crew_eliminated", payload["reason"])
}

func TestVotingSkipStartsNextRound(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	startAndReachVoting(t, f)

	for _, voter := range f.conns {
		if _, err := f.svc.CastVote(ctx, f.roomID, voter, models.VoteSkip); err != nil {
			require.ErrorIs(t, err, apperr.ErrConflict)
		}
	}

	results := f.recorder.OfType("voting_result")
	require.Len(t, results, 1)
	payload := results[0]["result"].(map[string]any)
	require.Nil(t, payload["winner"])
	require.Equal(t, "no_majority", payload["reason"])
	require.Equal(t, map[string]string{
		f.conns[0]: models.VoteSkip,
		f.conns[1]: models.VoteSkip,
		f.conns[2]: models.VoteSkip,
	}, payload["votes"])

	state := f.turnState(t)
	require.NotNil(t, state)
	require.Equal(t, models.PhaseActive, state.Phase)
	require.Equal(t, 2, state.Round, "skip outcome must start the next round")
	require.Empty(t, f.recorder.OfType("game_ended"))

	votes, err := f.store.GetVotes(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, votes, "votes reset between rounds")

	words, err := f.store.GetTurnWords(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, words, "per-round words reset between rounds")

	history, err := f.store.GetWordHistory(ctx, f.roomID)
	require.NoError(t, err)
	require.Len(t, history, 3, "word history persists across rounds")
}

func TestVoteAtDeadlineFinalizes(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	startAndReachVoting(t, f)

	// A deadline equal to the current instant already counts as expired.
	state := f.turnState(t)
	state.VoteDeadlineTS = now()
	require.NoError(t, f.store.SetTurnState(ctx, f.roomID, state))

	_, err := f.svc.CastVote(ctx, f.roomID, f.conns[0], models.VoteSkip)
	require.ErrorIs(t, err, apperr.ErrConflict, "late vote must be rejected")

	results := f.recorder.OfType("voting_result")
	require.Len(t, results, 1, "expired deadline finalizes the vote")
	payload := results[0]["result"].(map[string]any)
	require.Nil(t, payload["winner"])
	require.Equal(t, "no_majority", payload["reason"])

	next := f.turnState(t)
	require.NotNil(t, next)
	require.Equal(t, models.PhaseActive, next.Phase)
	require.Equal(t, 2, next.Round)
}

func TestPauseAndResumeCurrentSpeaker(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)
	speaker := order[0]

	require.NoError(t, f.svc.HandleDisconnect(ctx, f.roomID, speaker))
	state := f.turnState(t)
	require.Equal(t, models.PhasePaused, state.Phase)
	require.Equal(t, speaker, state.CurrentConnID)
	require.Greater(t, state.GraceDeadlineTS, 0.0)
	require.LessOrEqual(t, state.TurnRemaining, state.TurnDuration)

	paused := f.recorder.OfType("turn_paused")
	require.Len(t, paused, 1)
	require.EqualValues(t, state.TurnGrace, paused[0]["remaining"])

	require.NoError(t, f.svc.HandleReconnect(ctx, f.roomID, speaker, models.RoleCrew))
	state = f.turnState(t)
	require.Equal(t, models.PhaseActive, state.Phase)
	require.Equal(t, speaker, state.CurrentConnID)

	resumed := f.recorder.OfType("turn_resumed")
	require.Len(t, resumed, 1)
}

func TestDisconnectOfNonSpeakerIsNoOp(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)

	require.NoError(t, f.svc.HandleDisconnect(ctx, f.roomID, order[1]))
	state := f.turnState(t)
	require.Equal(t, models.PhaseActive, state.Phase)
	require.Empty(t, f.recorder.OfType("turn_paused"))
}

func TestResumeWithZeroRemainingSkipsTurn(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)

	state := f.turnState(t)
	state.Phase = models.PhasePaused
	state.TurnRemaining = 0
	state.DeadlineTS = 0
	state.GraceDeadlineTS = now() + float64(state.TurnGrace)
	require.NoError(t, f.store.SetTurnState(ctx, f.roomID, state))

	require.NoError(t, f.svc.HandleReconnect(ctx, f.roomID, order[0], ""))

	ended := f.recorder.OfType("turn_ended")
	require.Len(t, ended, 1)
	require.Equal(t, "skipped", ended[0]["reason"])
	next := f.turnState(t)
	require.Equal(t, order[1], next.CurrentConnID)
}

func TestGuessWord(t *testing.T) {
	f := newFixture(t, 3, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))

	impostor := f.conns[0]
	crew := f.conns[1]
	require.NoError(t, f.store.SetImpostor(ctx, f.roomID, impostor))
	require.NoError(t, f.store.SetSecretWord(ctx, f.roomID, "red apple"))

	_, err := f.svc.GuessWord(ctx, f.roomID, crew, "red apple")
	require.ErrorIs(t, err, apperr.ErrForbidden, "only the impostor may guess")

	_, err = f.svc.GuessWord(ctx, f.roomID, impostor, "   ")
	require.ErrorIs(t, err, apperr.ErrValidation)

	result, err := f.svc.GuessWord(ctx, f.roomID, impostor, "  Red   APPLE ")
	require.NoError(t, err)
	require.Equal(t, models.RoleImpostor, result["winner"], "normalized guess must match")
	require.Equal(t, "impostor_guessed", result["reason"])

	gameState, err := f.store.GetGameState(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, models.GameStateEnded, gameState)
}

func TestGuessWordWrongGuessCrewWins(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))

	impostor := f.conns[0]
	require.NoError(t, f.store.SetImpostor(ctx, f.roomID, impostor))
	require.NoError(t, f.store.SetSecretWord(ctx, f.roomID, "castle"))

	result, err := f.svc.GuessWord(ctx, f.roomID, impostor, "garden")
	require.NoError(t, err)
	require.Equal(t, models.RoleCrew, result["winner"])
	require.Equal(t, "impostor_failed_guess", result["reason"])
}

func TestEndGameClearsEverything(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)
	_, err := f.svc.SubmitTurnWord(ctx, f.roomID, order[0], "clue")
	require.NoError(t, err)

	result, err := f.svc.EndGame(ctx, f.roomID, nil)
	require.NoError(t, err)
	require.Equal(t, "win_condition", result["reason"], "nil result falls back to the default")

	state := f.turnState(t)
	require.Nil(t, state)
	impostor, err := f.store.GetImpostor(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, impostor)
	word, err := f.store.GetSecretWord(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, word)
	votes, err := f.store.GetVotes(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, votes)
	history, err := f.store.GetWordHistory(ctx, f.roomID)
	require.NoError(t, err)
	require.Empty(t, history)

	lobby, err := f.store.GetLobbyState(ctx, f.roomID)
	require.NoError(t, err)
	for _, player := range lobby.Players {
		require.False(t, player.Ready, "ready flags reset after game end")
	}
}

func TestStartVotingWithNoMembersIsNoOp(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()
	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	state := f.turnState(t)
	for _, connID := range f.conns {
		require.NoError(t, f.store.RemoveConn(ctx, f.roomID, connID))
	}
	f.recorder.Reset()

	lock := f.svc.roomLock(f.roomID)
	lock.Lock()
	err := f.svc.startVotingLocked(ctx, f.roomID, state)
	lock.Unlock()
	require.NoError(t, err)
	require.Empty(t, f.recorder.OfType("voting_started"))
}

func TestGetTurnSnapshot(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx := context.Background()

	snapshot, err := f.svc.GetTurnSnapshot(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, "idle", snapshot["phase"])

	require.NoError(t, f.svc.StartGame(ctx, f.roomID, f.host(t)))
	order := f.order(t)
	_, err = f.svc.SubmitTurnWord(ctx, f.roomID, order[0], "clue")
	require.NoError(t, err)

	snapshot, err = f.svc.GetTurnSnapshot(ctx, f.roomID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseActive, snapshot["phase"])
	require.Equal(t, order, snapshot["order"])
	words := snapshot["words"].([]models.WordEntry)
	require.Len(t, words, 1)
	remaining := snapshot["remaining"].(int)
	require.GreaterOrEqual(t, remaining, 0)
}
