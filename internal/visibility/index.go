package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

// Index tracks which sessions are discoverable, split into a public and a
// private set. Membership changes are member-level set operations, never a
// whole-list rewrite, so concurrent create/join/delete cannot lose updates.
type Index struct {
	store store.Store
	group singleflight.Group
}

// NewIndex creates a visibility index over the given store.
func NewIndex(s store.Store) *Index {
	return &Index{store: s}
}

func indexKey(private bool) string {
	if private {
		return store.PrivateSessionsKey
	}
	return store.PublicSessionsKey
}

// Add marks a session discoverable in the set matching its privacy flag.
// Adding an existing member is a no-op, so callers can re-assert membership.
func (i *Index) Add(ctx context.Context, sessionID string, private bool) error {
	return i.store.SetAdd(ctx, indexKey(private), sessionID)
}

// Remove drops a session from both sets. Sessions live in at most one set,
// but removal from both costs nothing and repairs drift.
func (i *Index) Remove(ctx context.Context, sessionID string) error {
	if err := i.store.SetRemove(ctx, store.PublicSessionsKey, sessionID); err != nil {
		return err
	}
	return i.store.SetRemove(ctx, store.PrivateSessionsKey, sessionID)
}

// List returns the sessions currently discoverable with the given privacy
// flag: still existing, still waiting, still matching. Anything else found in
// the set is pruned as a side effect. Concurrent identical lists are
// collapsed so second-interval pollers do not stampede the store.
func (i *Index) List(ctx context.Context, private bool) ([]domain.Session, error) {
	v, err, _ := i.group.Do(indexKey(private), func() (interface{}, error) {
		return i.list(ctx, private)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Session), nil
}

func (i *Index) list(ctx context.Context, private bool) ([]domain.Session, error) {
	key := indexKey(private)
	ids, err := i.store.SetMembers(ctx, key)
	if err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(ids))
	var stale []string

	for _, id := range ids {
		data, err := i.store.Get(ctx, store.SessionKey(id))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}

		var sess domain.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
		}

		if sess.Status != domain.SessionWaiting || sess.IsPrivate != private {
			stale = append(stale, id)
			continue
		}

		sessions = append(sessions, sess)
	}

	if len(stale) > 0 {
		if err := i.store.SetRemove(ctx, key, stale...); err != nil {
			ctxLogger := log.Ctx(ctx)
			ctxLogger.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune stale index members")
		}
	}

	sort.Slice(sessions, func(a, b int) bool {
		return sessions[a].CreatedAt.Before(sessions[b].CreatedAt)
	})

	return sessions, nil
}
