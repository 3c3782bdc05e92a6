package session

import "errors"

// errNoChange aborts a mutate without writing anything back.
var errNoChange = errors.New("no change")

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidState      = errors.New("operation not allowed in current session state")
	ErrCapacityExceeded  = errors.New("session is full")
	ErrNotEnoughPlayers  = errors.New("not enough players")
	ErrNotHost           = errors.New("only the host can do that")
	ErrInvalidMaxPlayers = errors.New("max players out of range")
)
