package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
)

// Generator produces the flavor content for a session: a persona, its ordered
// clues, and the role choices offered to players. Implementations are
// external collaborators; this package only holds the contract and the cache.
type Generator interface {
	Generate(ctx context.Context, sessionID string) (*domain.PersonaContent, error)
}

// Service caches generator output per session. The first read generates and
// stores the content; every later read returns it unchanged until the session
// is deleted.
type Service struct {
	store     store.Store
	generator Generator
	ttl       time.Duration
}

// NewService creates a caching persona service.
func NewService(s store.Store, g Generator, ttl time.Duration) *Service {
	return &Service{store: s, generator: g, ttl: ttl}
}

// Get returns the content for a session, generating it on first read.
func (s *Service) Get(ctx context.Context, sessionID string) (*domain.PersonaContent, error) {
	data, err := s.store.Get(ctx, store.PersonaKey(sessionID))
	if err == nil {
		var content domain.PersonaContent
		if err := json.Unmarshal(data, &content); err != nil {
			return nil, fmt.Errorf("unmarshal persona %s: %w", sessionID, err)
		}
		return &content, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	content, err := s.generator.Generate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("generate persona: %w", err)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("marshal persona %s: %w", sessionID, err)
	}

	// First writer wins; a concurrent generation for the same session keeps
	// whichever content landed first so repeat reads stay stable.
	claimed, err := s.store.SetIfAbsent(ctx, store.PersonaKey(sessionID), payload, s.ttl)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.Get(ctx, sessionID)
	}
	return content, nil
}

// Invalidate discards cached content, normally as part of session deletion.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, store.PersonaKey(sessionID))
}
