package domain

import (
	"time"
)

// ActiveWindow is how recently a user must have been seen to count as active.
const ActiveWindow = 5 * time.Minute

// UserRef identifies the acting user, as supplied by the identity provider.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// UserProfile is the persisted per-user record.
type UserProfile struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	LastActive    time.Time `json:"last_active"`
	Wins          int       `json:"wins"`
	Chips         int       `json:"chips"`
}

// ActiveAt reports whether the user counts as active at the given instant.
// Liveness is computed from LastActive, never stored.
func (u *UserProfile) ActiveAt(now time.Time) bool {
	return now.Sub(u.LastActive) < ActiveWindow
}

// LeaderboardEntry is one row of the wins leaderboard.
type LeaderboardEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Wins     int    `json:"wins"`
}
