// internal/store/store.go
// Package store defines the RoomStore port: all durable state for rooms,
// membership, game phase, votes and resume tokens. Two implementations exist:
// a Redis-backed one for production and an in-memory one for tests.
package store

import (
	"context"

	"github.com/impostor-game/impostor/internal/models"
)

// RoomStore is the durable-state capability set shared by RoomService and
// GameService. Absence is modeled with zero values, not errors, except the
// resume-token operations which fail with apperr.ErrNotFound on unknown
// tokens.
type RoomStore interface {
	// Room lifecycle.
	CreateRoom(ctx context.Context, roomID, name string) error
	GetRoomName(ctx context.Context, roomID string) (string, error)
	SetGameState(ctx context.Context, roomID, state string) error
	GetGameState(ctx context.Context, roomID string) (string, error)
	// EndGame stores the result (defaulting it when nil), marks the room
	// ended, and returns the stored result.
	EndGame(ctx context.Context, roomID string, result map[string]any) (map[string]any, error)

	// Membership. AddConn elects the conn as host if the room has none;
	// RemoveConn reassigns the host to the lexicographically smallest
	// remaining conn, or clears it.
	AddConn(ctx context.Context, roomID, connID, nickname string, ready bool) error
	RemoveConn(ctx context.Context, roomID, connID string) error
	ListConns(ctx context.Context, roomID string) ([]string, error)
	GetHost(ctx context.Context, roomID string) (string, error)

	// Per-conn attributes.
	SetReady(ctx context.Context, roomID, connID string, ready bool) error
	SetNickname(ctx context.Context, roomID, connID, nickname string) error
	SetRole(ctx context.Context, roomID, connID, role string) error

	// Lobby snapshot and settings.
	GetLobbyState(ctx context.Context, roomID string) (*models.LobbyState, error)
	GetRoomSettings(ctx context.Context, roomID string) (map[string]any, error)
	SetRoomSettings(ctx context.Context, roomID string, settings map[string]any) error

	// Roles and the secret word.
	SetSecretWord(ctx context.Context, roomID, word string) error
	GetSecretWord(ctx context.Context, roomID string) (string, error)
	SetImpostor(ctx context.Context, roomID, connID string) error
	GetImpostor(ctx context.Context, roomID string) (string, error)
	ClearRoles(ctx context.Context, roomID string) error

	// Turn state. GetTurnState returns nil when no game tick exists.
	SetTurnState(ctx context.Context, roomID string, state *models.TurnState) error
	GetTurnState(ctx context.Context, roomID string) (*models.TurnState, error)
	ClearTurnState(ctx context.Context, roomID string) error

	// Turn order, persisted once per game and reused across rounds.
	SetTurnOrder(ctx context.Context, roomID string, order []string) error
	GetTurnOrder(ctx context.Context, roomID string) ([]string, error)
	ClearTurnOrder(ctx context.Context, roomID string) error

	// Per-round words and the per-game history.
	AppendTurnWord(ctx context.Context, roomID string, entry models.WordEntry) error
	GetTurnWords(ctx context.Context, roomID string) ([]models.WordEntry, error)
	ClearTurnWords(ctx context.Context, roomID string) error
	AppendWordHistory(ctx context.Context, roomID string, entry models.WordEntry) error
	GetWordHistory(ctx context.Context, roomID string) ([]models.WordEntry, error)
	ClearWordHistory(ctx context.Context, roomID string) error

	// Votes: voter conn id -> target conn id or "skip".
	SetVote(ctx context.Context, roomID, voterConnID, targetConnID string) error
	GetVotes(ctx context.Context, roomID string) (map[string]string, error)
	ClearVotes(ctx context.Context, roomID string) error

	// Resume tokens. Issue snapshots the conn's current attributes;
	// Consume returns the snapshot and deletes the token.
	IssueResumeToken(ctx context.Context, roomID, connID string) (string, error)
	PeekResumeToken(ctx context.Context, token string) (*models.ResumeSnapshot, error)
	ConsumeResumeToken(ctx context.Context, token string) (*models.ResumeSnapshot, error)
}
