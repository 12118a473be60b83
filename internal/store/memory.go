// internal/store/memory.go
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/impostor-game/impostor/internal/apperr"
	"github.com/impostor-game/impostor/internal/models"
)

// connAttrs mirrors the per-connection hash kept by the Redis store.
type connAttrs struct {
	roomID   string
	nickname string
	ready    bool
	role     string
}

type memRoom struct {
	name      string
	gameState string
	result    map[string]any
	host      string
	conns     map[string]struct{}
	settings  map[string]any
	word      string
	impostor  string
	turn      *models.TurnState
	order     []string
	turnWords []models.WordEntry
	history   []models.WordEntry
	votes     map[string]string
}

// MemoryStore is an in-process RoomStore with the same semantics as the
// Redis implementation. It backs the test suites and single-node dev runs.
type MemoryStore struct {
	mu       sync.Mutex
	rooms    map[string]*memRoom
	conns    map[string]*connAttrs
	tokens   map[string]models.ResumeSnapshot
	defaults map[string]int
}

// NewMemoryStore builds an empty store. defaults seeds new rooms' settings;
// nil means the built-in defaults.
func NewMemoryStore(defaults map[string]int) *MemoryStore {
	if defaults == nil {
		defaults = models.DefaultSettings()
	}
	return &MemoryStore{
		rooms:    make(map[string]*memRoom),
		conns:    make(map[string]*connAttrs),
		tokens:   make(map[string]models.ResumeSnapshot),
		defaults: defaults,
	}
}

func (s *MemoryStore) room(roomID string) *memRoom {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &memRoom{
			conns:    make(map[string]struct{}),
			settings: make(map[string]any),
			votes:    make(map[string]string),
		}
		s.rooms[roomID] = r
	}
	return r
}

func (s *MemoryStore) CreateRoom(_ context.Context, roomID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.name = name
	r.gameState = models.GameStateLobby
	for k, v := range s.defaults {
		r.settings[k] = v
	}
	return nil
}

func (s *MemoryStore) GetRoomName(_ context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.name, nil
	}
	return "", nil
}

func (s *MemoryStore) SetGameState(_ context.Context, roomID, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).gameState = state
	return nil
}

func (s *MemoryStore) GetGameState(_ context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.gameState, nil
	}
	return "", nil
}

func (s *MemoryStore) EndGame(_ context.Context, roomID string, result map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if result == nil {
		result = map[string]any{"reason": "win_condition"}
	}
	r := s.room(roomID)
	r.result = result
	r.gameState = models.GameStateEnded
	return result, nil
}

func (s *MemoryStore) AddConn(_ context.Context, roomID, connID, nickname string, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.conns[connID] = struct{}{}
	s.conns[connID] = &connAttrs{roomID: roomID, nickname: nickname, ready: ready}
	if r.host == "" {
		r.host = connID
	}
	return nil
}

func (s *MemoryStore) RemoveConn(_ context.Context, roomID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	delete(s.conns, connID)
	if r.host == connID {
		r.host = smallestConn(r.conns)
	}
	return nil
}

func smallestConn(conns map[string]struct{}) string {
	smallest := ""
	for id := range conns {
		if smallest == "" || id < smallest {
			smallest = id
		}
	}
	return smallest
}

func (s *MemoryStore) ListConns(_ context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) GetHost(_ context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.host, nil
	}
	return "", nil
}

func (s *MemoryStore) SetReady(_ context.Context, _, connID string, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[connID]; ok {
		c.ready = ready
	}
	return nil
}

func (s *MemoryStore) SetNickname(_ context.Context, _, connID, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[connID]; ok {
		c.nickname = nickname
	}
	return nil
}

func (s *MemoryStore) SetRole(_ context.Context, _, connID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[connID]; ok {
		c.role = role
	}
	return nil
}

func (s *MemoryStore) GetLobbyState(_ context.Context, roomID string) (*models.LobbyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	players := make(map[string]models.PlayerInfo, len(r.conns))
	for id := range r.conns {
		c := s.conns[id]
		if c == nil {
			continue
		}
		players[id] = models.PlayerInfo{Nick: c.nickname, Ready: c.ready}
	}
	settings := make(map[string]any, len(r.settings))
	for k, v := range r.settings {
		settings[k] = v
	}
	return &models.LobbyState{
		RoomID:   roomID,
		Name:     r.name,
		Players:  players,
		Host:     r.host,
		Settings: settings,
	}, nil
}

func (s *MemoryStore) GetRoomSettings(_ context.Context, roomID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]any, len(r.settings))
	for k, v := range r.settings {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) SetRoomSettings(_ context.Context, roomID string, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	for k, v := range settings {
		r.settings[k] = v
	}
	return nil
}

func (s *MemoryStore) SetSecretWord(_ context.Context, roomID, word string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).word = word
	return nil
}

func (s *MemoryStore) GetSecretWord(_ context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.word, nil
	}
	return "", nil
}

func (s *MemoryStore) SetImpostor(_ context.Context, roomID, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).impostor = connID
	return nil
}

func (s *MemoryStore) GetImpostor(_ context.Context, roomID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.impostor, nil
	}
	return "", nil
}

func (s *MemoryStore) ClearRoles(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	for id := range r.conns {
		if c, ok := s.conns[id]; ok {
			c.role = ""
		}
	}
	r.word = ""
	r.impostor = ""
	return nil
}

func (s *MemoryStore) SetTurnState(_ context.Context, roomID string, state *models.TurnState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).turn = state.Clone()
	return nil
}

func (s *MemoryStore) GetTurnState(_ context.Context, roomID string) (*models.TurnState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.turn.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) ClearTurnState(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.turn = nil
	}
	return nil
}

func (s *MemoryStore) SetTurnOrder(_ context.Context, roomID string, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).order = append([]string(nil), order...)
	return nil
}

func (s *MemoryStore) GetTurnOrder(_ context.Context, roomID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return append([]string(nil), r.order...), nil
	}
	return nil, nil
}

func (s *MemoryStore) ClearTurnOrder(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.order = nil
	}
	return nil
}

func (s *MemoryStore) AppendTurnWord(_ context.Context, roomID string, entry models.WordEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.turnWords = append(r.turnWords, entry)
	return nil
}

func (s *MemoryStore) GetTurnWords(_ context.Context, roomID string) ([]models.WordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return append([]models.WordEntry(nil), r.turnWords...), nil
	}
	return nil, nil
}

func (s *MemoryStore) ClearTurnWords(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.turnWords = nil
	}
	return nil
}

func (s *MemoryStore) AppendWordHistory(_ context.Context, roomID string, entry models.WordEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.room(roomID)
	r.history = append(r.history, entry)
	return nil
}

func (s *MemoryStore) GetWordHistory(_ context.Context, roomID string) ([]models.WordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return append([]models.WordEntry(nil), r.history...), nil
	}
	return nil, nil
}

func (s *MemoryStore) ClearWordHistory(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.history = nil
	}
	return nil
}

func (s *MemoryStore) SetVote(_ context.Context, roomID, voterConnID, targetConnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room(roomID).votes[voterConnID] = targetConnID
	return nil
}

func (s *MemoryStore) GetVotes(_ context.Context, roomID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	if r, ok := s.rooms[roomID]; ok {
		for k, v := range r.votes {
			out[k] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) ClearVotes(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.votes = make(map[string]string)
	}
	return nil
}

func (s *MemoryStore) IssueResumeToken(_ context.Context, roomID, connID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, err := newResumeToken()
	if err != nil {
		return "", err
	}
	snap := models.ResumeSnapshot{RoomID: roomID, ConnID: connID}
	if c, ok := s.conns[connID]; ok {
		snap.Nickname = c.nickname
		snap.Ready = c.ready
		snap.Role = c.role
	}
	s.tokens[token] = snap
	return token, nil
}

func (s *MemoryStore) PeekResumeToken(_ context.Context, token string) (*models.ResumeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.tokens[token]
	if !ok {
		return nil, apperr.NotFoundf("resume token unknown")
	}
	cp := snap
	return &cp, nil
}

func (s *MemoryStore) ConsumeResumeToken(_ context.Context, token string) (*models.ResumeSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.tokens[token]
	if !ok {
		return nil, apperr.NotFoundf("resume token unknown")
	}
	delete(s.tokens, token)
	cp := snap
	return &cp, nil
}
