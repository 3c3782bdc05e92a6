package roomcode

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

var (
	ErrCodeNotFound = errors.New("room not found")
	// ErrVisibilityMismatch means the code exists but belongs to the other
	// room type; a public search must never leak a private code.
	ErrVisibilityMismatch = errors.New("wrong room type")
	// ErrNotAcceptingPlayers means the code's session already started.
	ErrNotAcceptingPlayers = errors.New("room is no longer accepting players")
)

// codeAlphabet omits 0/O/1/I so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Registry maps short human-entered codes to sessions. The room_code record
// is the single source of truth for code -> session resolution; entries whose
// session vanished are pruned lazily on lookup.
type Registry struct {
	store       store.Store
	codeLength  int
	maxAttempts int
	entryTTL    time.Duration
	now         func() time.Time
	generate    func(length int) (string, error)
}

// NewRegistry creates a code registry.
func NewRegistry(s store.Store, codeLength, maxAttempts int, entryTTL time.Duration) *Registry {
	if codeLength <= 0 {
		codeLength = 5
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Registry{
		store:       s,
		codeLength:  codeLength,
		maxAttempts: maxAttempts,
		entryTTL:    entryTTL,
		now:         time.Now,
		generate:    randomCode,
	}
}

// GenerateAndRegister produces a fresh code and claims it for sessionID.
// Registration is a set-if-absent, so two sessions created at the same moment
// can never end up sharing a code; on collision a new code is drawn.
func (r *Registry) GenerateAndRegister(ctx context.Context, sessionID string, isPrivate bool) (string, error) {
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		code, err := r.generate(r.codeLength)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}

		claimed, err := r.register(ctx, code, sessionID, isPrivate)
		if err != nil {
			return "", err
		}
		if claimed {
			return code, nil
		}

		ctxLogger := log.Ctx(ctx)
		ctxLogger.Warn().Str(log.FieldRoomCode, code).Msg("room code collision, regenerating")
	}
	return "", fmt.Errorf("generate room code: exhausted %d attempts", r.maxAttempts)
}

func (r *Registry) register(ctx context.Context, code, sessionID string, isPrivate bool) (bool, error) {
	entry := domain.RoomCodeEntry{
		SchemaVersion: domain.SchemaVersion,
		SessionID:     sessionID,
		IsPrivate:     isPrivate,
		CreatedAt:     r.now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal room code entry: %w", err)
	}
	return r.store.SetIfAbsent(ctx, store.RoomCodeKey(code), data, r.entryTTL)
}

// Unregister removes a code. Missing entries are not an error.
func (r *Registry) Unregister(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	return r.store.Delete(ctx, store.RoomCodeKey(code))
}

// Resolve looks up a code on behalf of a caller searching rooms of the given
// visibility. It returns the session only while it is still waiting for
// players, and self-heals entries whose session no longer exists.
func (r *Registry) Resolve(ctx context.Context, code string, wantPrivate bool) (*domain.Session, error) {
	data, err := r.store.Get(ctx, store.RoomCodeKey(code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	var entry domain.RoomCodeEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal room code entry: %w", err)
	}

	if entry.IsPrivate != wantPrivate {
		return nil, ErrVisibilityMismatch
	}

	sessData, err := r.store.Get(ctx, store.SessionKey(entry.SessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Orphan entry: the session is gone, drop the code.
			if delErr := r.store.Delete(ctx, store.RoomCodeKey(code)); delErr != nil {
				ctxLogger := log.Ctx(ctx)
				ctxLogger.Warn().Err(delErr).Str(log.FieldRoomCode, code).Msg("failed to prune orphan room code")
			}
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	var sess domain.Session
	if err := json.Unmarshal(sessData, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	if sess.Status != domain.SessionWaiting {
		return nil, ErrNotAcceptingPlayers
	}

	return &sess, nil
}

func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
