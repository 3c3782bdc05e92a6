package persona

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
)

// ScriptedGenerator deals personas from a fixed table, keyed off the session
// id so the same session always draws the same persona. It stands in for the
// hosted generator in development and tests.
type ScriptedGenerator struct {
	Now func() time.Time
}

var scriptedPersonas = []struct {
	persona string
	clues   [3]string
}{
	{
		persona: "Marisol, a retired lighthouse keeper who hums sea shanties",
		clues:   [3]string{"mentions fog at odd moments", "counts stairs out of habit", "distrusts calm weather"},
	},
	{
		persona: "Dex, a street magician who never reveals a trick twice",
		clues:   [3]string{"shuffles anything shuffleable", "answers questions with questions", "keeps a coin in motion"},
	},
	{
		persona: "Ines, a night-shift radio host with a velvet voice",
		clues:   [3]string{"speaks in song titles", "pauses like dead air is coming", "knows everyone's requests"},
	},
	{
		persona: "Bram, a beekeeper convinced the hive votes on everything",
		clues:   [3]string{"describes groups as swarms", "checks the wind before deciding", "sweetens every story"},
	},
	{
		persona: "Okoye, a chess hustler who plays three boards blind",
		clues:   [3]string{"thinks two answers ahead", "names moments like openings", "never touches a piece twice"},
	},
}

var scriptedRoles = []string{"skeptic", "confidant", "wildcard", "observer"}

// Generate picks deterministic content for the session.
func (g *ScriptedGenerator) Generate(_ context.Context, sessionID string) (*domain.PersonaContent, error) {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	sum := sha256.Sum256([]byte(sessionID))
	pick := scriptedPersonas[int(binary.BigEndian.Uint32(sum[:4]))%len(scriptedPersonas)]

	return &domain.PersonaContent{
		SchemaVersion: domain.SchemaVersion,
		SessionID:     sessionID,
		Persona:       pick.persona,
		Clues:         pick.clues[:],
		RoleOptions:   append([]string(nil), scriptedRoles...),
		GeneratedAt:   now(),
	}, nil
}
