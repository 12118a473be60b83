// internal/models/models.go
package models

// Game lifecycle states for a room.
const (
	GameStateLobby      = "lobby"
	GameStateInProgress = "in_progress"
	GameStateEnded      = "ended"
)

// Turn phases.
const (
	PhaseActive = "active"
	PhasePaused = "paused"
	PhaseVoting = "voting"
)

// TurnEndReason describes why a turn ended.
type TurnEndReason string

const (
	ReasonSpoken  TurnEndReason = "spoken"
	ReasonTimeout TurnEndReason = "timeout"
	ReasonSkipped TurnEndReason = "skipped"
)

// Player roles.
const (
	RoleImpostor = "impostor"
	RoleCrew     = "crew"
)

// VoteSkip is the sentinel vote target for abstaining.
const VoteSkip = "skip"

// PlayerInfo is the lobby view of a single connection.
type PlayerInfo struct {
	Nick  string `json:"nick"`
	Ready bool   `json:"ready"`
}

// LobbyState is the full lobby snapshot broadcast to clients.
type LobbyState struct {
	RoomID   string                `json:"room_id"`
	Name     string                `json:"name"`
	Players  map[string]PlayerInfo `json:"players"`
	Host     string                `json:"host"`
	Settings map[string]any        `json:"settings"`
}

// TurnState is the current game tick for a room. Deadlines are wall-clock
// Unix seconds; which one is meaningful depends on Phase.
type TurnState struct {
	Phase           string   `json:"phase"`
	Round           int      `json:"round"`
	TurnIndex       int      `json:"turn_index"`
	CurrentConnID   string   `json:"current_conn_id"`
	DeadlineTS      float64  `json:"deadline_ts,omitempty"`
	TurnRemaining   int      `json:"turn_remaining,omitempty"`
	GraceDeadlineTS float64  `json:"grace_deadline_ts,omitempty"`
	VoteDeadlineTS  float64  `json:"vote_deadline_ts,omitempty"`
	Voters          []string `json:"voters,omitempty"`

	// Durations carried from the room settings at game start.
	TurnDuration int `json:"turn_duration"`
	TurnGrace    int `json:"turn_grace"`
	VoteDuration int `json:"vote_duration"`
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (ts *TurnState) Clone() *TurnState {
	if ts == nil {
		return nil
	}
	cp := *ts
	if ts.Voters != nil {
		cp.Voters = append([]string(nil), ts.Voters...)
	}
	return &cp
}

// WordEntry is one submitted clue word within a round.
type WordEntry struct {
	Word      string `json:"word"`
	ConnID    string `json:"conn_id"`
	Round     int    `json:"round"`
	TurnIndex int    `json:"turn_index"`
}

// ResumeSnapshot captures a connection's attributes at disconnect time.
// A resume token maps to exactly one snapshot and is consumed once.
type ResumeSnapshot struct {
	RoomID   string `json:"room_id"`
	ConnID   string `json:"conn_id"`
	Nickname string `json:"nickname,omitempty"`
	Ready    bool   `json:"ready"`
	Role     string `json:"role,omitempty"`
}
