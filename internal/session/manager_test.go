package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/directory"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/persona"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/roomcode"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/visibility"
)

type testEnv struct {
	store    *store.MemoryStore
	codes    *roomcode.Registry
	index    *visibility.Index
	users    *directory.Directory
	personas *persona.Service
	mgr      *Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ms := store.NewMemoryStore()
	codes := roomcode.NewRegistry(ms, 5, 5, 0)
	index := visibility.NewIndex(ms)
	users := directory.New(ms)
	personas := persona.NewService(ms, &persona.ScriptedGenerator{}, 0)

	mgr := NewManager(ms, codes, index, users, personas, Options{MaxPlayersLimit: 8})

	fixed := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return fixed }

	var seq int
	mgr.newID = func() string {
		seq++
		return fmt.Sprintf("sess-%d", seq)
	}
	mgr.pickDealer = func(players []domain.Player) string {
		return players[0].UserID
	}

	return &testEnv{store: ms, codes: codes, index: index, users: users, personas: personas, mgr: mgr}
}

// user registers a profile so leave's user lookup resolves.
func (e *testEnv) user(t *testing.T, id string) domain.UserRef {
	t.Helper()
	ref := domain.UserRef{ID: id, Username: "name-" + id}
	if _, err := e.users.Touch(context.Background(), ref.ID, ref.Username); err != nil {
		t.Fatalf("touch user %s: %v", id, err)
	}
	return ref
}

func (e *testEnv) pointer(t *testing.T, userID string) string {
	t.Helper()
	data, err := e.store.Get(context.Background(), store.UserSessionKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ""
		}
		t.Fatalf("read pointer: %v", err)
	}
	return string(data)
}

func (e *testEnv) indexMembers(t *testing.T, private bool) []string {
	t.Helper()
	key := store.PublicSessionsKey
	if private {
		key = store.PrivateSessionsKey
	}
	members, err := e.store.SetMembers(context.Background(), key)
	if err != nil {
		t.Fatalf("set members: %v", err)
	}
	return members
}

func assertOneHost(t *testing.T, s *domain.Session) {
	t.Helper()
	if len(s.Players) == 0 {
		return
	}
	hosts := 0
	for _, p := range s.Players {
		if p.IsHost {
			hosts++
			if p.UserID != s.HostUserID {
				t.Fatalf("host flag on %s but host_user_id is %s", p.UserID, s.HostUserID)
			}
		}
	}
	if hosts != 1 {
		t.Fatalf("expected exactly one host, got %d", hosts)
	}
}

func TestCreateSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")

	sess, err := env.mgr.Create(ctx, host, 2, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if sess.Status != domain.SessionWaiting {
		t.Fatalf("expected waiting, got %s", sess.Status)
	}
	if len(sess.Players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(sess.Players))
	}
	if len(sess.Code) != 5 {
		t.Fatalf("expected 5-char code, got %q", sess.Code)
	}
	if !sess.Players[0].IsHost || sess.HostUserID != host.ID {
		t.Fatalf("creator is not host: %+v", sess)
	}
	assertOneHost(t, sess)

	if got := env.pointer(t, host.ID); got != sess.ID {
		t.Fatalf("expected pointer %s, got %q", sess.ID, got)
	}
	members := env.indexMembers(t, false)
	if len(members) != 1 || members[0] != sess.ID {
		t.Fatalf("expected public index [%s], got %v", sess.ID, members)
	}

	resolved, err := env.codes.Resolve(ctx, sess.Code, false)
	if err != nil {
		t.Fatalf("resolve code: %v", err)
	}
	if resolved.ID != sess.ID || resolved.Code != sess.Code {
		t.Fatalf("code resolved to wrong session: %+v", resolved)
	}
}

func TestCreateRejectsBadMaxPlayers(t *testing.T) {
	env := newTestEnv(t)
	host := env.user(t, "u1")

	if _, err := env.mgr.Create(context.Background(), host, 1, false); !errors.Is(err, ErrInvalidMaxPlayers) {
		t.Fatalf("expected ErrInvalidMaxPlayers, got %v", err)
	}
	if _, err := env.mgr.Create(context.Background(), host, 9, false); !errors.Is(err, ErrInvalidMaxPlayers) {
		t.Fatalf("expected ErrInvalidMaxPlayers for over-limit, got %v", err)
	}
}

func TestJoinFillsAndOverflows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")
	third := env.user(t, "u3")

	sess, err := env.mgr.Create(ctx, host, 2, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	joined, err := env.mgr.Join(ctx, sess.ID, second)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined.Players) != 2 || joined.Status != domain.SessionWaiting {
		t.Fatalf("expected 2 players still waiting, got %+v", joined)
	}
	if joined.Players[1].IsHost {
		t.Fatal("joiner must not be host")
	}
	if got := env.pointer(t, second.ID); got != sess.ID {
		t.Fatalf("expected pointer %s, got %q", sess.ID, got)
	}

	if _, err := env.mgr.Join(ctx, sess.ID, third); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestJoinMissingSession(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "u1")

	if _, err := env.mgr.Join(context.Background(), "nope", user); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestJoinAfterStartFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")
	late := env.user(t, "u3")

	sess, _ := env.mgr.Create(ctx, host, 4, false)
	if _, err := env.mgr.Join(ctx, sess.ID, second); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := env.mgr.StartCountdown(ctx, sess.ID, host); err != nil {
		t.Fatalf("start countdown: %v", err)
	}

	if _, err := env.mgr.Join(ctx, sess.ID, late); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestHostLeaveTransfersByOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")
	third := env.user(t, "u3")

	sess, _ := env.mgr.Create(ctx, host, 4, false)
	env.mgr.Join(ctx, sess.ID, second)
	env.mgr.Join(ctx, sess.ID, third)

	if err := env.mgr.Leave(ctx, sess.ID, host); err != nil {
		t.Fatalf("leave: %v", err)
	}

	after, err := env.mgr.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.HostUserID != second.ID {
		t.Fatalf("expected host transfer to %s, got %s", second.ID, after.HostUserID)
	}
	assertOneHost(t, after)

	if len(after.PreviousPlayers) != 1 || after.PreviousPlayers[0].UserID != host.ID || !after.PreviousPlayers[0].WasHost {
		t.Fatalf("expected departed host recorded with was_host, got %+v", after.PreviousPlayers)
	}
	if got := env.pointer(t, host.ID); got != "" {
		t.Fatalf("expected cleared pointer, got %q", got)
	}
}

func TestRejoinCarriesWasHostWithoutPromotion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")
	third := env.user(t, "u3")

	sess, _ := env.mgr.Create(ctx, host, 4, false)
	env.mgr.Join(ctx, sess.ID, second)
	env.mgr.Join(ctx, sess.ID, third)
	env.mgr.Leave(ctx, sess.ID, host)

	rejoined, err := env.mgr.Join(ctx, sess.ID, host)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	i := rejoined.PlayerIndex(host.ID)
	if i < 0 {
		t.Fatal("expected rejoined player seated")
	}
	if rejoined.Players[i].IsHost {
		t.Fatal("rejoined former host must not be auto-promoted")
	}
	if !rejoined.Players[i].WasHost {
		t.Fatal("rejoined former host must keep was_host")
	}
	if len(rejoined.PreviousPlayers) != 0 {
		t.Fatalf("expected previous players drained, got %+v", rejoined.PreviousPlayers)
	}

	// The current host leaving now hands the role back to the former host,
	// ahead of earlier-seated players.
	if err := env.mgr.Leave(ctx, sess.ID, second); err != nil {
		t.Fatalf("leave: %v", err)
	}
	after, _ := env.mgr.Get(ctx, sess.ID)
	if after.HostUserID != host.ID {
		t.Fatalf("expected was_host priority promotion to %s, got %s", host.ID, after.HostUserID)
	}
	i = after.PlayerIndex(host.ID)
	if after.Players[i].WasHost {
		t.Fatal("promotion must clear was_host")
	}
	assertOneHost(t, after)
}

func TestStartCountdown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")

	sess, _ := env.mgr.Create(ctx, host, 4, false)

	if _, err := env.mgr.StartCountdown(ctx, sess.ID, host); !errors.Is(err, ErrNotEnoughPlayers) {
		t.Fatalf("expected ErrNotEnoughPlayers, got %v", err)
	}

	env.mgr.Join(ctx, sess.ID, second)

	if _, err := env.mgr.StartCountdown(ctx, sess.ID, second); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}

	started, err := env.mgr.StartCountdown(ctx, sess.ID, host)
	if err != nil {
		t.Fatalf("start countdown: %v", err)
	}
	if started.Status != domain.SessionCountdown {
		t.Fatalf("expected countdown, got %s", started.Status)
	}
	if started.CountdownStartedAt == nil {
		t.Fatal("expected countdown_started_at stamped")
	}
	if started.DealerID != host.ID {
		t.Fatalf("expected dealer %s, got %s", host.ID, started.DealerID)
	}
	if members := env.indexMembers(t, false); len(members) != 0 {
		t.Fatalf("countdown session still discoverable: %v", members)
	}

	if _, err := env.mgr.StartCountdown(ctx, sess.ID, host); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on repeat, got %v", err)
	}
}

func TestStartGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")

	sess, _ := env.mgr.Create(ctx, host, 4, false)
	env.mgr.Join(ctx, sess.ID, second)

	if _, err := env.mgr.StartGame(ctx, sess.ID, host, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState from waiting, got %v", err)
	}

	env.mgr.StartCountdown(ctx, sess.ID, host)

	settings := (&domain.StartGameRequest{PersonaStyle: "noir"}).Settings()
	active, err := env.mgr.StartGame(ctx, sess.ID, host, settings)
	if err != nil {
		t.Fatalf("start game: %v", err)
	}
	if active.Status != domain.SessionActive {
		t.Fatalf("expected active, got %s", active.Status)
	}
	if active.GameStartedAt == nil {
		t.Fatal("expected game_started_at stamped")
	}
	if active.Settings == nil || active.Settings.PersonaStyle != "noir" || active.Settings.RoundSeconds != 180 {
		t.Fatalf("expected defaulted settings, got %+v", active.Settings)
	}
}

func TestCompleteRecordsWinnerOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")

	sess, _ := env.mgr.Create(ctx, host, 4, false)
	env.mgr.Join(ctx, sess.ID, second)
	env.mgr.StartCountdown(ctx, sess.ID, host)
	env.mgr.StartGame(ctx, sess.ID, host, nil)

	done, err := env.mgr.Complete(ctx, sess.ID, host, second.ID, second.Username)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.SessionComplete || done.WinnerID != second.ID {
		t.Fatalf("unexpected completed session: %+v", done)
	}

	if _, err := env.mgr.Complete(ctx, sess.ID, host, second.ID, second.Username); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double complete, got %v", err)
	}

	profile, err := env.users.GetUser(ctx, second.ID)
	if err != nil {
		t.Fatalf("get winner: %v", err)
	}
	if profile.Wins != 1 {
		t.Fatalf("expected 1 win, got %d", profile.Wins)
	}

	// The outcome is readable exactly once via the current-session pointer.
	current, err := env.mgr.Current(ctx, second.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current == nil || current.Status != domain.SessionComplete {
		t.Fatalf("expected completed session on first read, got %+v", current)
	}

	current, err = env.mgr.Current(ctx, second.ID)
	if err != nil {
		t.Fatalf("current again: %v", err)
	}
	if current != nil {
		t.Fatalf("expected nil on second read, got %+v", current)
	}
}

func TestActiveSessionCollapsesToOnePlayer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")
	second := env.user(t, "u2")

	sess, _ := env.mgr.Create(ctx, host, 2, false)
	env.mgr.Join(ctx, sess.ID, second)
	env.mgr.StartCountdown(ctx, sess.ID, host)
	env.mgr.StartGame(ctx, sess.ID, host, nil)

	code := sess.Code
	if err := env.mgr.Leave(ctx, sess.ID, host); err != nil {
		t.Fatalf("leave: %v", err)
	}

	// A 1-player game cannot continue: the session and every secondary
	// structure must be gone.
	if _, err := env.mgr.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session deleted, got %v", err)
	}
	if _, err := env.codes.Resolve(ctx, code, false); !errors.Is(err, roomcode.ErrCodeNotFound) {
		t.Fatalf("expected code unregistered, got %v", err)
	}
	if members := env.indexMembers(t, false); len(members) != 0 {
		t.Fatalf("expected empty index, got %v", members)
	}
	for _, u := range []domain.UserRef{host, second} {
		current, err := env.mgr.Current(ctx, u.ID)
		if err != nil {
			t.Fatalf("current %s: %v", u.ID, err)
		}
		if current != nil {
			t.Fatalf("expected no session for %s, got %+v", u.ID, current)
		}
	}
}

func TestEmptyWaitingSessionIsDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")

	sess, _ := env.mgr.Create(ctx, host, 4, true)
	if members := env.indexMembers(t, true); len(members) != 1 {
		t.Fatalf("expected private index membership, got %v", members)
	}

	if err := env.mgr.Leave(ctx, sess.ID, host); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if _, err := env.mgr.Get(ctx, sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session deleted, got %v", err)
	}
	if members := env.indexMembers(t, true); len(members) != 0 {
		t.Fatalf("expected empty private index, got %v", members)
	}
}

func TestLeaveVanishedSessionIsNoop(t *testing.T) {
	env := newTestEnv(t)
	user := env.user(t, "u1")

	if err := env.mgr.Leave(context.Background(), "gone", user); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestLeaveUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.mgr.Leave(context.Background(), "any", domain.UserRef{ID: "ghost", Username: "ghost"})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateForcesOutOfPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u1")

	first, _ := env.mgr.Create(ctx, host, 4, false)
	second, err := env.mgr.Create(ctx, host, 4, false)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	// The first session emptied out and was deleted.
	if _, err := env.mgr.Get(ctx, first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected first session deleted, got %v", err)
	}
	if got := env.pointer(t, host.ID); got != second.ID {
		t.Fatalf("expected pointer %s, got %q", second.ID, got)
	}
}

func TestJoinForcesOutOfPreviousSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.user(t, "u1")
	b := env.user(t, "u2")

	target, _ := env.mgr.Create(ctx, a, 4, false)
	other, _ := env.mgr.Create(ctx, b, 4, false)

	joined, err := env.mgr.Join(ctx, target.ID, b)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.PlayerIndex(b.ID) < 0 {
		t.Fatal("expected b seated in target session")
	}
	if _, err := env.mgr.Get(ctx, other.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected b's old session deleted, got %v", err)
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	host := env.user(t, "u0")

	sess, _ := env.mgr.Create(ctx, host, 5, false)

	users := make([]domain.UserRef, 10)
	for i := range users {
		users[i] = env.user(t, fmt.Sprintf("joiner-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, u domain.UserRef) {
			defer wg.Done()
			_, errs[i] = env.mgr.Join(ctx, sess.ID, u)
		}(i, u)
	}
	wg.Wait()

	joined := 0
	for _, err := range errs {
		switch {
		case err == nil:
			joined++
		case errors.Is(err, ErrCapacityExceeded):
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if joined != 4 {
		t.Fatalf("expected 4 successful joins into 5 seats, got %d", joined)
	}

	after, err := env.mgr.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(after.Players) != after.MaxPlayers {
		t.Fatalf("expected exactly %d players, got %d", after.MaxPlayers, len(after.Players))
	}
	assertOneHost(t, after)
}

func TestCurrentCleansStalePointer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.user(t, "u1")

	// Pointer to a session that no longer exists.
	if err := env.store.Set(ctx, store.UserSessionKey(user.ID), []byte("gone"), 0); err != nil {
		t.Fatalf("seed pointer: %v", err)
	}

	current, err := env.mgr.Current(ctx, user.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current != nil {
		t.Fatalf("expected nil session, got %+v", current)
	}
	if got := env.pointer(t, user.ID); got != "" {
		t.Fatalf("expected stale pointer pruned, got %q", got)
	}
}
