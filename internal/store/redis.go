// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/models"
)

// RedisStore is the production RoomStore keyed by composed strings:
//
//	room:{id}            room name
//	room:{id}:conns      membership set
//	room:{id}:state      game state
//	room:{id}:result     game result json
//	room:{id}:host       current host conn id
//	room:{id}:settings   settings hash
//	room:{id}:turn       turn-state hash
//	room:{id}:order      turn order list
//	room:{id}:turn_words per-round word list (json entries)
//	room:{id}:history    per-game word history (json entries)
//	room:{id}:votes      voter -> target hash
//	room:{id}:word       secret word
//	room:{id}:impostor   impostor conn id
//	conn:{id}            per-connection attribute hash
//	resume:{token}       resume snapshot hash
//
// ListConns and GetTurnState are cached per room; any write touching those
// keys invalidates the room's cache entry.
type RedisStore struct {
	rdb      *redis.Client
	defaults map[string]int

	cacheMu    sync.Mutex
	connsCache map[string][]string
	turnCache  map[string]*models.TurnState
}

// NewRedisStore wraps an already-connected client. defaults seeds new rooms'
// settings; nil means the built-in defaults.
func NewRedisStore(rdb *redis.Client, defaults map[string]int) *RedisStore {
	if defaults == nil {
		defaults = models.DefaultSettings()
	}
	return &RedisStore{
		rdb:        rdb,
		defaults:   defaults,
		connsCache: make(map[string][]string),
		turnCache:  make(map[string]*models.TurnState),
	}
}

// ConnectRedis dials the Redis instance named by url (REDIS_URL shape) and
// verifies the connection with a ping.
func ConnectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func roomKey(roomID string) string      { return "room:" + roomID }
func connsKey(roomID string) string     { return "room:" + roomID + ":conns" }
func stateKey(roomID string) string     { return "room:" + roomID + ":state" }
func resultKey(roomID string) string    { return "room:" + roomID + ":result" }
func hostKey(roomID string) string      { return "room:" + roomID + ":host" }
func settingsKey(roomID string) string  { return "room:" + roomID + ":settings" }
func turnKey(roomID string) string      { return "room:" + roomID + ":turn" }
func orderKey(roomID string) string     { return "room:" + roomID + ":order" }
func turnWordsKey(roomID string) string { return "room:" + roomID + ":turn_words" }
func historyKey(roomID string) string   { return "room:" + roomID + ":history" }
func votesKey(roomID string) string     { return "room:" + roomID + ":votes" }
func wordKey(roomID string) string      { return "room:" + roomID + ":word" }
func impostorKey(roomID string) string  { return "room:" + roomID + ":impostor" }
func connKey(connID string) string      { return "conn:" + connID }
func resumeKey(token string) string     { return "resume:" + token }

func (s *RedisStore) invalidateConns(roomID string) {
	s.cacheMu.Lock()
	delete(s.connsCache, roomID)
	s.cacheMu.Unlock()
}

func (s *RedisStore) invalidateTurn(roomID string) {
	s.cacheMu.Lock()
	delete(s.turnCache, roomID)
	s.cacheMu.Unlock()
}

func (s *RedisStore) CreateRoom(ctx context.Context, roomID, name string) error {
	if err := s.rdb.Set(ctx, roomKey(roomID), name, 0).Err(); err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, stateKey(roomID), models.GameStateLobby, 0).Err(); err != nil {
		return err
	}
	fields := make(map[string]any, len(s.defaults))
	for k, v := range s.defaults {
		fields[k] = strconv.Itoa(v)
	}
	return s.rdb.HSet(ctx, settingsKey(roomID), fields).Err()
}

func (s *RedisStore) GetRoomName(ctx context.Context, roomID string) (string, error) {
	name, err := s.rdb.Get(ctx, roomKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return name, err
}

func (s *RedisStore) SetGameState(ctx context.Context, roomID, state string) error {
	return s.rdb.Set(ctx, stateKey(roomID), state, 0).Err()
}

func (s *RedisStore) GetGameState(ctx context.Context, roomID string) (string, error) {
	state, err := s.rdb.Get(ctx, stateKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return state, err
}

func (s *RedisStore) EndGame(ctx context.Context, roomID string, result map[string]any) (map[string]any, error) {
	if result == nil {
		result = map[string]any{"reason": "win_condition"}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal game result: %w", err)
	}
	if err := s.rdb.Set(ctx, resultKey(roomID), data, 0).Err(); err != nil {
		return nil, err
	}
	if err := s.rdb.Set(ctx, stateKey(roomID), models.GameStateEnded, 0).Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RedisStore) AddConn(ctx context.Context, roomID, connID, nickname string, ready bool) error {
	if err := s.rdb.SAdd(ctx, connsKey(roomID), connID).Err(); err != nil {
		return err
	}
	s.invalidateConns(roomID)
	fields := map[string]any{"room_id": roomID, "ready": strconv.FormatBool(ready)}
	if nickname != "" {
		fields["nickname"] = nickname
	}
	if err := s.rdb.HSet(ctx, connKey(connID), fields).Err(); err != nil {
		return err
	}
	// First member becomes host; SetNX keeps an existing host in place.
	return s.rdb.SetNX(ctx, hostKey(roomID), connID, 0).Err()
}

func (s *RedisStore) RemoveConn(ctx context.Context, roomID, connID string) error {
	if err := s.rdb.SRem(ctx, connsKey(roomID), connID).Err(); err != nil {
		return err
	}
	s.invalidateConns(roomID)
	if err := s.rdb.Del(ctx, connKey(connID)).Err(); err != nil {
		return err
	}
	host, err := s.rdb.Get(ctx, hostKey(roomID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if host != connID {
		return nil
	}
	remaining, err := s.rdb.SMembers(ctx, connsKey(roomID)).Result()
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return s.rdb.Del(ctx, hostKey(roomID)).Err()
	}
	sort.Strings(remaining)
	return s.rdb.Set(ctx, hostKey(roomID), remaining[0], 0).Err()
}

func (s *RedisStore) ListConns(ctx context.Context, roomID string) ([]string, error) {
	s.cacheMu.Lock()
	if cached, ok := s.connsCache[roomID]; ok {
		out := append([]string(nil), cached...)
		s.cacheMu.Unlock()
		return out, nil
	}
	s.cacheMu.Unlock()

	conns, err := s.rdb.SMembers(ctx, connsKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(conns)
	s.cacheMu.Lock()
	s.connsCache[roomID] = append([]string(nil), conns...)
	s.cacheMu.Unlock()
	return conns, nil
}

func (s *RedisStore) GetHost(ctx context.Context, roomID string) (string, error) {
	host, err := s.rdb.Get(ctx, hostKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return host, err
}

func (s *RedisStore) SetReady(ctx context.Context, _, connID string, ready bool) error {
	return s.rdb.HSet(ctx, connKey(connID), "ready", strconv.FormatBool(ready)).Err()
}

func (s *RedisStore) SetNickname(ctx context.Context, _, connID, nickname string) error {
	return s.rdb.HSet(ctx, connKey(connID), "nickname", nickname).Err()
}

func (s *RedisStore) SetRole(ctx context.Context, _, connID, role string) error {
	return s.rdb.HSet(ctx, connKey(connID), "role", role).Err()
}

func (s *RedisStore) GetLobbyState(ctx context.Context, roomID string) (*models.LobbyState, error) {
	name, err := s.GetRoomName(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, nil
	}
	conns, err := s.ListConns(ctx, roomID)
	if err != nil {
		return nil, err
	}
	players := make(map[string]models.PlayerInfo, len(conns))
	for _, id := range conns {
		attrs, err := s.rdb.HGetAll(ctx, connKey(id)).Result()
		if err != nil {
			return nil, err
		}
		players[id] = models.PlayerInfo{
			Nick:  attrs["nickname"],
			Ready: attrs["ready"] == "true",
		}
	}
	host, err := s.GetHost(ctx, roomID)
	if err != nil {
		return nil, err
	}
	settings, err := s.GetRoomSettings(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &models.LobbyState{
		RoomID:   roomID,
		Name:     name,
		Players:  players,
		Host:     host,
		Settings: settings,
	}, nil
}

func (s *RedisStore) GetRoomSettings(ctx context.Context, roomID string) (map[string]any, error) {
	raw, err := s.rdb.HGetAll(ctx, settingsKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if _, known := models.SettingBounds[k]; known {
			if n, err := strconv.Atoi(v); err == nil {
				out[k] = n
				continue
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				out[k] = int(f)
				continue
			}
		}
		out[k] = v
	}
	return out, nil
}

func (s *RedisStore) SetRoomSettings(ctx context.Context, roomID string, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	fields := make(map[string]any, len(settings))
	for k, v := range settings {
		fields[k] = fmt.Sprintf("%v", v)
	}
	return s.rdb.HSet(ctx, settingsKey(roomID), fields).Err()
}

func (s *RedisStore) SetSecretWord(ctx context.Context, roomID, word string) error {
	return s.rdb.Set(ctx, wordKey(roomID), word, 0).Err()
}

func (s *RedisStore) GetSecretWord(ctx context.Context, roomID string) (string, error) {
	word, err := s.rdb.Get(ctx, wordKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return word, err
}

func (s *RedisStore) SetImpostor(ctx context.Context, roomID, connID string) error {
	return s.rdb.Set(ctx, impostorKey(roomID), connID, 0).Err()
}

func (s *RedisStore) GetImpostor(ctx context.Context, roomID string) (string, error) {
	id, err := s.rdb.Get(ctx, impostorKey(roomID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (s *RedisStore) ClearRoles(ctx context.Context, roomID string) error {
	conns, err := s.ListConns(ctx, roomID)
	if err != nil {
		return err
	}
	for _, id := range conns {
		if err := s.rdb.HDel(ctx, connKey(id), "role").Err(); err != nil {
			return err
		}
	}
	return s.rdb.Del(ctx, wordKey(roomID), impostorKey(roomID)).Err()
}

func (s *RedisStore) SetTurnState(ctx context.Context, roomID string, state *models.TurnState) error {
	fields := map[string]any{
		"phase":           state.Phase,
		"round":           strconv.Itoa(state.Round),
		"turn_index":      strconv.Itoa(state.TurnIndex),
		"current_conn_id": state.CurrentConnID,
		"turn_duration":   strconv.Itoa(state.TurnDuration),
		"turn_grace":      strconv.Itoa(state.TurnGrace),
		"vote_duration":   strconv.Itoa(state.VoteDuration),
	}
	if state.DeadlineTS != 0 {
		fields["deadline_ts"] = strconv.FormatFloat(state.DeadlineTS, 'f', -1, 64)
	}
	if state.Phase == models.PhasePaused {
		fields["turn_remaining"] = strconv.Itoa(state.TurnRemaining)
		fields["grace_deadline_ts"] = strconv.FormatFloat(state.GraceDeadlineTS, 'f', -1, 64)
	}
	if state.VoteDeadlineTS != 0 {
		fields["vote_deadline_ts"] = strconv.FormatFloat(state.VoteDeadlineTS, 'f', -1, 64)
	}
	if state.Voters != nil {
		data, err := json.Marshal(state.Voters)
		if err != nil {
			return fmt.Errorf("marshal voters: %w", err)
		}
		fields["voters"] = string(data)
	}
	// Replace, don't merge: stale pause/vote fields must not survive a
	// phase change.
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, turnKey(roomID))
	pipe.HSet(ctx, turnKey(roomID), fields)
	_, err := pipe.Exec(ctx)
	s.invalidateTurn(roomID)
	return err
}

func (s *RedisStore) GetTurnState(ctx context.Context, roomID string) (*models.TurnState, error) {
	s.cacheMu.Lock()
	if cached, ok := s.turnCache[roomID]; ok {
		out := cached.Clone()
		s.cacheMu.Unlock()
		return out, nil
	}
	s.cacheMu.Unlock()

	raw, err := s.rdb.HGetAll(ctx, turnKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	state := &models.TurnState{
		Phase:           raw["phase"],
		Round:           atoiField(raw, "round"),
		TurnIndex:       atoiField(raw, "turn_index"),
		CurrentConnID:   raw["current_conn_id"],
		DeadlineTS:      floatField(raw, "deadline_ts"),
		TurnRemaining:   atoiField(raw, "turn_remaining"),
		GraceDeadlineTS: floatField(raw, "grace_deadline_ts"),
		VoteDeadlineTS:  floatField(raw, "vote_deadline_ts"),
		TurnDuration:    atoiField(raw, "turn_duration"),
		TurnGrace:       atoiField(raw, "turn_grace"),
		VoteDuration:    atoiField(raw, "vote_duration"),
	}
	if votersRaw, ok := raw["voters"]; ok && votersRaw != "" {
		var voters []string
		if err := json.Unmarshal([]byte(votersRaw), &voters); err == nil {
			state.Voters = voters
		}
	}
	s.cacheMu.Lock()
	s.turnCache[roomID] = state.Clone()
	s.cacheMu.Unlock()
	return state, nil
}

func (s *RedisStore) ClearTurnState(ctx context.Context, roomID string) error {
	err := s.rdb.Del(ctx, turnKey(roomID)).Err()
	s.invalidateTurn(roomID)
	return err
}

func (s *RedisStore) SetTurnOrder(ctx context.Context, roomID string, order []string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, orderKey(roomID))
	if len(order) > 0 {
		vals := make([]any, len(order))
		for i, id := range order {
			vals[i] = id
		}
		pipe.RPush(ctx, orderKey(roomID), vals...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetTurnOrder(ctx context.Context, roomID string) ([]string, error) {
	return s.rdb.LRange(ctx, orderKey(roomID), 0, -1).Result()
}

func (s *RedisStore) ClearTurnOrder(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, orderKey(roomID)).Err()
}

func (s *RedisStore) appendEntry(ctx context.Context, key string, entry models.WordEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal word entry: %w", err)
	}
	return s.rdb.RPush(ctx, key, data).Err()
}

func (s *RedisStore) listEntries(ctx context.Context, key string) ([]models.WordEntry, error) {
	raw, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]models.WordEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.WordEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) AppendTurnWord(ctx context.Context, roomID string, entry models.WordEntry) error {
	return s.appendEntry(ctx, turnWordsKey(roomID), entry)
}

func (s *RedisStore) GetTurnWords(ctx context.Context, roomID string) ([]models.WordEntry, error) {
	return s.listEntries(ctx, turnWordsKey(roomID))
}

func (s *RedisStore) ClearTurnWords(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, turnWordsKey(roomID)).Err()
}

func (s *RedisStore) AppendWordHistory(ctx context.Context, roomID string, entry models.WordEntry) error {
	return s.appendEntry(ctx, historyKey(roomID), entry)
}

func (s *RedisStore) GetWordHistory(ctx context.Context, roomID string) ([]models.WordEntry, error) {
	return s.listEntries(ctx, historyKey(roomID))
}

func (s *RedisStore) ClearWordHistory(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, historyKey(roomID)).Err()
}

func (s *RedisStore) SetVote(ctx context.Context, roomID, voterConnID, targetConnID string) error {
	return s.rdb.HSet(ctx, votesKey(roomID), voterConnID, targetConnID).Err()
}

func (s *RedisStore) GetVotes(ctx context.Context, roomID string) (map[string]string, error) {
	votes, err := s.rdb.HGetAll(ctx, votesKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	return votes, nil
}

func (s *RedisStore) ClearVotes(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, votesKey(roomID)).Err()
}

func (s *RedisStore) IssueResumeToken(ctx context.Context, roomID, connID string) (string, error) {
	token, err := newResumeToken()
	if err != nil {
		return "", err
	}
	attrs, err := s.rdb.HGetAll(ctx, connKey(connID)).Result()
	if err != nil {
		return "", err
	}
	fields := map[string]any{
		"room_id": roomID,
		"conn_id": connID,
		"ready":   attrs["ready"],
	}
	if nick := attrs["nickname"]; nick != "" {
		fields["nickname"] = nick
	}
	if role := attrs["role"]; role != "" {
		fields["role"] = role
	}
	if err := s.rdb.HSet(ctx, resumeKey(token), fields).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisStore) PeekResumeToken(ctx context.Context, token string) (*models.ResumeSnapshot, error) {
	raw, err := s.rdb.HGetAll(ctx, resumeKey(token)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, apperr.NotFoundf("resume token unknown")
	}
	return snapshotFromHash(raw), nil
}

func (s *RedisStore) ConsumeResumeToken(ctx context.Context, token string) (*models.ResumeSnapshot, error) {
	snap, err := s.PeekResumeToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.rdb.Del(ctx, resumeKey(token)).Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

func snapshotFromHash(raw map[string]string) *models.ResumeSnapshot {
	return &models.ResumeSnapshot{
		RoomID:   raw["room_id"],
		ConnID:   raw["conn_id"],
		Nickname: raw["nickname"],
		Ready:    raw["ready"] == "true",
		Role:     raw["role"],
	}
}

func atoiField(raw map[string]string, key string) int {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int(f)
	}
	return 0
}

func floatField(raw map[string]string, key string) float64 {
	v, ok := raw[key]
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
