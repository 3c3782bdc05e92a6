package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
)

func newTestDirectory() (*Directory, *time.Time) {
	d := New(store.NewMemoryStore())
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func TestTouchCreatesProfile(t *testing.T) {
	d, _ := newTestDirectory()
	ctx := context.Background()

	profile, err := d.Touch(ctx, "u1", "alice")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if profile.Username != "alice" || profile.Wins != 0 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Chips != startingChips {
		t.Fatalf("expected starting chips, got %d", profile.Chips)
	}

	loaded, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !loaded.LastActive.Equal(profile.LastActive) {
		t.Fatalf("last_active mismatch: %v vs %v", loaded.LastActive, profile.LastActive)
	}
}

func TestGetUnknownUser(t *testing.T) {
	d, _ := newTestDirectory()

	if _, err := d.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestActiveUsersWindowAndPruning(t *testing.T) {
	d, now := newTestDirectory()
	ctx := context.Background()

	if _, err := d.Touch(ctx, "u1", "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if _, err := d.Touch(ctx, "u2", "bob"); err != nil {
		t.Fatalf("touch: %v", err)
	}

	// Six minutes later only a re-touched user is still active.
	*now = now.Add(6 * time.Minute)
	if _, err := d.Touch(ctx, "u2", "bob"); err != nil {
		t.Fatalf("re-touch: %v", err)
	}

	active, err := d.ActiveUsers(ctx)
	if err != nil {
		t.Fatalf("active users: %v", err)
	}
	if len(active) != 1 || active[0].ID != "u2" {
		t.Fatalf("expected only u2 active, got %+v", active)
	}

	// The stale member was pruned from the set, not just filtered.
	members, err := d.store.SetMembers(ctx, store.ActiveUsersKey)
	if err != nil {
		t.Fatalf("set members: %v", err)
	}
	if len(members) != 1 || members[0] != "u2" {
		t.Fatalf("expected pruned set [u2], got %v", members)
	}
}

func TestIncrementWins(t *testing.T) {
	d, _ := newTestDirectory()
	ctx := context.Background()

	if _, err := d.Touch(ctx, "u1", "alice"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := d.IncrementWins(ctx, "u1", "alice"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	profile, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if profile.Wins != 3 {
		t.Fatalf("expected 3 wins, got %d", profile.Wins)
	}
}

func TestIncrementWinsCreatesMissingProfile(t *testing.T) {
	d, _ := newTestDirectory()
	ctx := context.Background()

	if err := d.IncrementWins(ctx, "new", "newbie"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	profile, err := d.GetUser(ctx, "new")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if profile.Wins != 1 || profile.Username != "newbie" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestLeaderboardOrderAndTruncation(t *testing.T) {
	d, _ := newTestDirectory()
	ctx := context.Background()

	wins := map[string]int{"alice": 5, "bob": 9, "carol": 2, "dave": 9}
	for name, n := range wins {
		if _, err := d.Touch(ctx, name, name); err != nil {
			t.Fatalf("touch: %v", err)
		}
		for i := 0; i < n; i++ {
			if err := d.IncrementWins(ctx, name, name); err != nil {
				t.Fatalf("increment: %v", err)
			}
		}
	}

	entries, err := d.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Ties break by username, so bob sorts before dave.
	if entries[0].Username != "bob" || entries[1].Username != "dave" || entries[2].Username != "alice" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}
