package domain

import "time"

// PersonaContent is the generated flavor content for one session: the AI
// persona seated at the table, its ordered clues, and the role choices offered
// to players. Generated once per session and served unchanged on repeat reads.
type PersonaContent struct {
	SchemaVersion int       `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	Persona       string    `json:"persona"`
	Clues         []string  `json:"clues"`
	RoleOptions   []string  `json:"role_options"`
	GeneratedAt   time.Time `json:"generated_at"`
}
