package visibility

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
)

func seedSession(t *testing.T, ms *store.MemoryStore, id string, status domain.SessionStatus, private bool, createdAt time.Time) {
	t.Helper()
	sess := &domain.Session{
		SchemaVersion: domain.SchemaVersion,
		Version:       1,
		ID:            id,
		Status:        status,
		IsPrivate:     private,
		MaxPlayers:    4,
		CreatedAt:     createdAt,
	}
	data, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	if err := ms.Set(context.Background(), store.SessionKey(id), data, 0); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestListReturnsWaitingSessionsInCreationOrder(t *testing.T) {
	ms := store.NewMemoryStore()
	idx := NewIndex(ms)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	seedSession(t, ms, "older", domain.SessionWaiting, false, base)
	seedSession(t, ms, "newer", domain.SessionWaiting, false, base.Add(time.Minute))

	if err := idx.Add(ctx, "newer", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, "older", false); err != nil {
		t.Fatalf("add: %v", err)
	}

	sessions, err := idx.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "older" || sessions[1].ID != "newer" {
		t.Fatalf("expected creation order, got %s then %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestListPrunesStaleMembers(t *testing.T) {
	ms := store.NewMemoryStore()
	idx := NewIndex(ms)
	ctx := context.Background()

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	seedSession(t, ms, "ok", domain.SessionWaiting, false, now)
	seedSession(t, ms, "started", domain.SessionActive, false, now)
	seedSession(t, ms, "wrong-side", domain.SessionWaiting, true, now)

	for _, id := range []string{"ok", "started", "wrong-side", "vanished"} {
		if err := idx.Add(ctx, id, false); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}

	sessions, err := idx.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "ok" {
		t.Fatalf("expected only 'ok', got %+v", sessions)
	}

	// Listing pruned everything else from the set.
	members, err := ms.SetMembers(ctx, store.PublicSessionsKey)
	if err != nil {
		t.Fatalf("set members: %v", err)
	}
	if len(members) != 1 || members[0] != "ok" {
		t.Fatalf("expected pruned set [ok], got %v", members)
	}
}

func TestRemoveClearsBothSets(t *testing.T) {
	ms := store.NewMemoryStore()
	idx := NewIndex(ms)
	ctx := context.Background()

	if err := idx.Add(ctx, "s1", false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Add(ctx, "s1", true); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := idx.Remove(ctx, "s1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	for _, key := range []string{store.PublicSessionsKey, store.PrivateSessionsKey} {
		members, err := ms.SetMembers(ctx, key)
		if err != nil {
			t.Fatalf("set members: %v", err)
		}
		if len(members) != 0 {
			t.Fatalf("expected %s empty, got %v", key, members)
		}
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	idx := NewIndex(ms)
	ctx := context.Background()

	seedSession(t, ms, "s1", domain.SessionWaiting, false, time.Now())
	for i := 0; i < 3; i++ {
		if err := idx.Add(ctx, "s1", false); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	sessions, err := idx.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}
