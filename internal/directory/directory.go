package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

var ErrUserNotFound = errors.New("user not found")

// startingChips is the balance a profile opens with.
const startingChips = 1000

// Directory tracks per-user profiles, liveness, and win counts. It shares the
// record store with the session manager but is otherwise independent of
// session logic.
type Directory struct {
	store store.Store
	now   func() time.Time
}

// New creates a user directory.
func New(s store.Store) *Directory {
	return &Directory{store: s, now: time.Now}
}

// GetUser loads a profile.
func (d *Directory) GetUser(ctx context.Context, userID string) (*domain.UserProfile, error) {
	data, err := d.store.Get(ctx, store.UserKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var profile domain.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", userID, err)
	}
	return &profile, nil
}

// Touch records activity for a user, creating the profile on first sight,
// and (re)adds them to the active-user set.
func (d *Directory) Touch(ctx context.Context, userID, username string) (*domain.UserProfile, error) {
	profile, err := d.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		profile = &domain.UserProfile{
			SchemaVersion: domain.SchemaVersion,
			ID:            userID,
			Chips:         startingChips,
		}
	}

	profile.Username = username
	profile.LastActive = d.now()

	if err := d.put(ctx, profile); err != nil {
		return nil, err
	}

	if err := d.store.SetAdd(ctx, store.ActiveUsersKey, userID); err != nil {
		return nil, err
	}
	if err := d.store.SetAdd(ctx, store.KnownUsersKey, userID); err != nil {
		return nil, err
	}

	return profile, nil
}

// ActiveUsers lists users seen within the activity window. Members whose
// profile is gone or stale are pruned from the set as a side effect.
func (d *Directory) ActiveUsers(ctx context.Context) ([]domain.UserProfile, error) {
	ids, err := d.store.SetMembers(ctx, store.ActiveUsersKey)
	if err != nil {
		return nil, err
	}

	now := d.now()
	active := make([]domain.UserProfile, 0, len(ids))
	var stale []string

	for _, id := range ids {
		profile, err := d.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				stale = append(stale, id)
				continue
			}
			return nil, err
		}
		if !profile.ActiveAt(now) {
			stale = append(stale, id)
			continue
		}
		active = append(active, *profile)
	}

	if len(stale) > 0 {
		if err := d.store.SetRemove(ctx, store.ActiveUsersKey, stale...); err != nil {
			ctxLogger := log.Ctx(ctx)
			ctxLogger.Warn().Err(err).Int("count", len(stale)).Msg("failed to prune stale active users")
		}
	}

	sort.Slice(active, func(a, b int) bool {
		return active[a].Username < active[b].Username
	})

	return active, nil
}

// IncrementWins bumps a user's win count by one. The read-increment-write is
// not atomic against a concurrent increment for the same user; gameplay
// serializes it in practice, one completion event per session.
func (d *Directory) IncrementWins(ctx context.Context, userID, username string) error {
	profile, err := d.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return err
		}
		profile = &domain.UserProfile{
			SchemaVersion: domain.SchemaVersion,
			ID:            userID,
			Username:      username,
			LastActive:    d.now(),
			Chips:         startingChips,
		}
	}

	profile.Wins++
	if username != "" {
		profile.Username = username
	}

	if err := d.put(ctx, profile); err != nil {
		return err
	}
	return d.store.SetAdd(ctx, store.KnownUsersKey, userID)
}

// Leaderboard returns the top users by win count.
func (d *Directory) Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	ids, err := d.store.SetMembers(ctx, store.KnownUsersKey)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(ids))
	for _, id := range ids {
		profile, err := d.GetUser(ctx, id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:   profile.ID,
			Username: profile.Username,
			Wins:     profile.Wins,
		})
	}

	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Wins != entries[b].Wins {
			return entries[a].Wins > entries[b].Wins
		}
		return entries[a].Username < entries[b].Username
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (d *Directory) put(ctx context.Context, profile *domain.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshal user %s: %w", profile.ID, err)
	}
	return d.store.Set(ctx, store.UserKey(profile.ID), data, 0)
}
