package domain

import (
	"time"
)

// SessionStatus represents where a session is in its lifecycle.
type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionCountdown SessionStatus = "countdown"
	SessionActive    SessionStatus = "active"
	SessionComplete  SessionStatus = "complete"
)

// SchemaVersion is the current on-disk schema for all persisted records.
const SchemaVersion = 1

// Player is one seat in a session.
type Player struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
	IsHost   bool      `json:"is_host"`
	WasHost  bool      `json:"was_host,omitempty"`
}

// Session is the aggregate root for one game lobby.
//
// Version is an optimistic concurrency counter: it increments on every write
// and writes with a stale expected version are rejected by the store.
type Session struct {
	SchemaVersion int   `json:"schema_version"`
	Version       int64 `json:"version"`

	ID           string        `json:"id"`
	Code         string        `json:"code"`
	HostUserID   string        `json:"host_user_id"`
	HostUsername string        `json:"host_username"`
	Players      []Player      `json:"players"`
	// PreviousPlayers holds players who left while the session was still
	// waiting, so a returning player can reclaim former host priority.
	PreviousPlayers []Player      `json:"previous_players,omitempty"`
	Status          SessionStatus `json:"status"`
	MaxPlayers      int           `json:"max_players"`
	IsPrivate       bool          `json:"is_private"`

	CreatedAt          time.Time  `json:"created_at"`
	CountdownStartedAt *time.Time `json:"countdown_started_at,omitempty"`
	GameStartedAt      *time.Time `json:"game_started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	// DealerID is cosmetic: picked once at countdown start, never reassigned.
	DealerID string `json:"dealer_id,omitempty"`

	WinnerID       string `json:"winner_id,omitempty"`
	WinnerUsername string `json:"winner_username,omitempty"`

	// Settings chosen by the host when the game starts.
	Settings *GameSettings `json:"settings,omitempty"`
}

// PlayerIndex returns the position of userID in Players, or -1.
func (s *Session) PlayerIndex(userID string) int {
	for i, p := range s.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// PreviousPlayerIndex returns the position of userID in PreviousPlayers, or -1.
func (s *Session) PreviousPlayerIndex(userID string) int {
	for i, p := range s.PreviousPlayers {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// IsFull reports whether the session has reached MaxPlayers.
func (s *Session) IsFull() bool {
	return len(s.Players) >= s.MaxPlayers
}

// Joinable reports whether the session accepts new players.
func (s *Session) Joinable() bool {
	return s.Status == SessionWaiting && !s.IsFull()
}

// RoomCodeEntry maps a human-entered code to a session. It is the single
// source of truth for code -> session resolution.
type RoomCodeEntry struct {
	SchemaVersion int       `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	IsPrivate     bool      `json:"is_private"`
	CreatedAt     time.Time `json:"created_at"`
}

// GameSettings enumerates every recognized option for starting a game.
type GameSettings struct {
	RoundSeconds   int    `json:"round_seconds,omitempty"`
	ClueSeconds    int    `json:"clue_seconds,omitempty"`
	PersonaStyle   string `json:"persona_style,omitempty"`
	AllowSpectator bool   `json:"allow_spectator,omitempty"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	MaxPlayers int  `json:"max_players" binding:"required,min=2,max=12"`
	IsPrivate  bool `json:"is_private"`
}

// StartGameRequest is the body of POST /sessions/:id/start. Every field is
// optional; unset fields keep their defaults.
type StartGameRequest struct {
	RoundSeconds   int    `json:"round_seconds" binding:"omitempty,min=30,max=600"`
	ClueSeconds    int    `json:"clue_seconds" binding:"omitempty,min=5,max=120"`
	PersonaStyle   string `json:"persona_style" binding:"omitempty,oneof=classic noir absurd"`
	AllowSpectator bool   `json:"allow_spectator"`
}

// Settings converts the request into persisted settings with defaults filled.
func (r *StartGameRequest) Settings() *GameSettings {
	s := &GameSettings{
		RoundSeconds:   r.RoundSeconds,
		ClueSeconds:    r.ClueSeconds,
		PersonaStyle:   r.PersonaStyle,
		AllowSpectator: r.AllowSpectator,
	}
	if s.RoundSeconds == 0 {
		s.RoundSeconds = 180
	}
	if s.ClueSeconds == 0 {
		s.ClueSeconds = 30
	}
	if s.PersonaStyle == "" {
		s.PersonaStyle = "classic"
	}
	return s
}

// CompleteSessionRequest is the body of POST /sessions/:id/complete.
type CompleteSessionRequest struct {
	WinnerID       string `json:"winner_id" binding:"required"`
	WinnerUsername string `json:"winner_username" binding:"required"`
}
