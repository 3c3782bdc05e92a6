package store

import "fmt"

// Key scheme:
// session:{id}              STRING<json Session>
// room_code:{code}          STRING<json RoomCodeEntry>
// user_session:{user_id}    STRING<session_id>   - user -> current session
// public_sessions           SET<session_id>      - joinable public sessions
// private_sessions          SET<session_id>      - joinable private sessions
// user:{user_id}            STRING<json UserProfile>
// active_users              SET<user_id>
// users                     SET<user_id>         - every user ever seen
// persona:{session_id}      STRING<json PersonaContent>

const (
	PublicSessionsKey  = "public_sessions"
	PrivateSessionsKey = "private_sessions"
	ActiveUsersKey     = "active_users"
	KnownUsersKey      = "users"
)

func SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func RoomCodeKey(code string) string {
	return fmt.Sprintf("room_code:%s", code)
}

func UserSessionKey(userID string) string {
	return fmt.Sprintf("user_session:%s", userID)
}

func UserKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func PersonaKey(sessionID string) string {
	return fmt.Sprintf("persona:%s", sessionID)
}
