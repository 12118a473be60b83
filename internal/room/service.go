// internal/room/service.go
// Package room implements the lobby-level operations: create/join/leave,
// ready flags, nicknames, settings, kicks, host authority and resume tokens.
package room

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/metrics"
	"github.com/impostor-game/impostor/internal/models"
	"github.com/impostor-game/impostor/internal/notify"
	"github.com/impostor-game/impostor/internal/store"
)

const (
	nicknameMinLen = 1
	nicknameMaxLen = 20
)

// Service is the lobby-level service. It shares the RoomStore with the game
// engine and emits lobby events through the Notifier.
type Service struct {
	store    store.RoomStore
	notifier notify.Notifier
	logger   *logrus.Logger
}

// NewService wires a lobby service.
func NewService(st store.RoomStore, notifier notify.Notifier, logger *logrus.Logger) *Service {
	return &Service{store: st, notifier: notifier, logger: logger}
}

// requireRoom resolves the room name or fails with NotFound.
func (s *Service) requireRoom(ctx context.Context, roomID string) (string, error) {
	name, err := s.store.GetRoomName(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("lookup room %s: %w", roomID, err)
	}
	if name == "" {
		return "", apperr.NotFoundf("room %s does not exist", roomID)
	}
	return name, nil
}

// CreateRoom mints a fresh room id and initializes the room with default
// settings in the lobby state.
func (s *Service) CreateRoom(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", apperr.Validationf("room name is required")
	}
	roomID, err := MakeRoomID()
	if err != nil {
		return "", err
	}
	if err := s.store.CreateRoom(ctx, roomID, name); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	metrics.RoomsCreated.Inc()
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "name": name}).Info("room created")
	return roomID, nil
}

// JoinRoom adds the conn to the room, enforcing max_players. Returns the room
// name and the membership after the join.
func (s *Service) JoinRoom(ctx context.Context, roomID, connID, nickname string) (string, []string, error) {
	name, err := s.requireRoom(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	settings, err := s.store.GetRoomSettings(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	maxPlayers := models.IntSetting(settings, "max_players", models.SettingBounds["max_players"].Default)
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	if len(conns) >= maxPlayers {
		return "", nil, apperr.Conflictf("room %s is full (%d players)", roomID, maxPlayers)
	}
	if err := s.store.AddConn(ctx, roomID, connID, nickname, false); err != nil {
		return "", nil, err
	}
	conns, err = s.store.ListConns(ctx, roomID)
	if err != nil {
		return "", nil, err
	}
	return name, conns, nil
}

// LeaveRoom removes the conn; the store reassigns the host if needed.
func (s *Service) LeaveRoom(ctx context.Context, roomID, connID string) error {
	if err := s.store.RemoveConn(ctx, roomID, connID); err != nil {
		return err
	}
	return s.broadcastLobbyState(ctx, roomID)
}

// SetReady flips the conn's ready flag and returns the fresh lobby state.
func (s *Service) SetReady(ctx context.Context, roomID, connID string, ready bool) (*models.LobbyState, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if err := s.store.SetReady(ctx, roomID, connID, ready); err != nil {
		return nil, err
	}
	return s.lobbyStateAndBroadcast(ctx, roomID)
}

// SetNickname renames a conn. A conn may rename itself; only the host may
// rename others.
func (s *Service) SetNickname(ctx context.Context, roomID, callerConnID, targetConnID, nickname string) (*models.LobbyState, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if len(nickname) < nicknameMinLen || len(nickname) > nicknameMaxLen {
		return nil, apperr.Validationf("nickname must be %d-%d characters", nicknameMinLen, nicknameMaxLen)
	}
	if callerConnID != targetConnID {
		host, err := s.store.GetHost(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if callerConnID != host {
			return nil, apperr.Forbiddenf("only the host may rename other players")
		}
	}
	if err := s.store.SetNickname(ctx, roomID, targetConnID, nickname); err != nil {
		return nil, err
	}
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast(ctx, conns, map[string]any{
		"type":    "user_renamed",
		"room_id": roomID,
		"conn_id": targetConnID,
		"nick":    nickname,
	})
	return s.lobbyStateAndBroadcast(ctx, roomID)
}

// UpdateSettings applies a partial settings update. Host only; lobby only.
// Known keys are bounds-checked, unrecognized keys pass through.
func (s *Service) UpdateSettings(ctx context.Context, roomID, callerConnID string, partial map[string]any) (*models.LobbyState, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	host, err := s.store.GetHost(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if callerConnID != host {
		return nil, apperr.Forbiddenf("only the host may change settings")
	}
	gameState, err := s.store.GetGameState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if gameState != models.GameStateLobby {
		return nil, apperr.Conflictf("settings can only change in the lobby")
	}
	validated := make(map[string]any, len(partial))
	for key, value := range partial {
		if _, known := models.SettingBounds[key]; known {
			n, ok := asInt(value)
			if !ok {
				return nil, apperr.Validationf("%s must be an integer", key)
			}
			if err := models.ValidateSetting(key, n); err != nil {
				return nil, err
			}
			validated[key] = n
			continue
		}
		validated[key] = fmt.Sprintf("%v", value)
	}
	if err := s.store.SetRoomSettings(ctx, roomID, validated); err != nil {
		return nil, err
	}
	return s.lobbyStateAndBroadcast(ctx, roomID)
}

// KickPlayer removes a non-host member. Host only. The target gets a kicked
// notice and its socket is closed.
func (s *Service) KickPlayer(ctx context.Context, roomID, callerConnID, targetConnID string) (*models.LobbyState, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	host, err := s.store.GetHost(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if callerConnID != host {
		return nil, apperr.Forbiddenf("only the host may kick players")
	}
	if targetConnID == host {
		return nil, apperr.Conflictf("the host cannot be kicked")
	}
	s.notifier.SendToConn(ctx, targetConnID, map[string]any{
		"type":    "kicked",
		"room_id": roomID,
	})
	if err := s.store.RemoveConn(ctx, roomID, targetConnID); err != nil {
		return nil, err
	}
	s.notifier.CloseConn(ctx, targetConnID)
	s.logger.WithFields(logrus.Fields{"room_id": roomID, "conn_id": targetConnID}).Info("player kicked")
	return s.lobbyStateAndBroadcast(ctx, roomID)
}

// Disconnect issues a resume token for the conn, then removes it. Issuing
// first snapshots the still-present attributes.
func (s *Service) Disconnect(ctx context.Context, roomID, connID string) (string, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return "", err
	}
	token, err := s.store.IssueResumeToken(ctx, roomID, connID)
	if err != nil {
		return "", err
	}
	if err := s.store.RemoveConn(ctx, roomID, connID); err != nil {
		return "", err
	}
	if err := s.broadcastLobbyState(ctx, roomID); err != nil {
		return "", err
	}
	return token, nil
}

// PreviewReconnect resolves a token without consuming it.
func (s *Service) PreviewReconnect(ctx context.Context, token string) (*models.ResumeSnapshot, error) {
	snap, err := s.store.PeekResumeToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireRoom(ctx, snap.RoomID); err != nil {
		return nil, err
	}
	return snap, nil
}

// Reconnect consumes a token and re-adds the conn with its snapshotted
// nickname and ready flag.
func (s *Service) Reconnect(ctx context.Context, token string) (*models.ResumeSnapshot, *models.LobbyState, error) {
	snap, err := s.store.PeekResumeToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.requireRoom(ctx, snap.RoomID); err != nil {
		return nil, nil, err
	}
	if _, err := s.store.ConsumeResumeToken(ctx, token); err != nil {
		return nil, nil, err
	}
	if err := s.store.AddConn(ctx, snap.RoomID, snap.ConnID, snap.Nickname, snap.Ready); err != nil {
		return nil, nil, err
	}
	state, err := s.lobbyStateAndBroadcast(ctx, snap.RoomID)
	if err != nil {
		return nil, nil, err
	}
	return snap, state, nil
}

// GetLobbyState returns the current lobby snapshot.
func (s *Service) GetLobbyState(ctx context.Context, roomID string) (*models.LobbyState, error) {
	if _, err := s.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	state, err := s.store.GetLobbyState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apperr.NotFoundf("room %s does not exist", roomID)
	}
	return state, nil
}

func (s *Service) lobbyStateAndBroadcast(ctx context.Context, roomID string) (*models.LobbyState, error) {
	state, err := s.store.GetLobbyState(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, apperr.NotFoundf("room %s does not exist", roomID)
	}
	conns, err := s.store.ListConns(ctx, roomID)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast(ctx, conns, map[string]any{
		"type":    "lobby_state",
		"room_id": roomID,
		"state":   state,
	})
	return state, nil
}

func (s *Service) broadcastLobbyState(ctx context.Context, roomID string) error {
	name, err := s.store.GetRoomName(ctx, roomID)
	if err != nil || name == "" {
		return err
	}
	_, err = s.lobbyStateAndBroadcast(ctx, roomID)
	return err
}

func asInt(value any) (int, bool) {
	switch n := value.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
