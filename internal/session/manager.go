package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/audit"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/directory"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/persona"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/roomcode"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/visibility"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

// Options tunes the manager.
type Options struct {
	// MaxPlayersLimit caps the max_players a host may request.
	MaxPlayersLimit int
	// LiveTTL is the store TTL for sessions still in play.
	LiveTTL time.Duration
	// CompletedTTL is the store TTL for completed sessions, long enough for
	// clients to poll the outcome once.
	CompletedTTL time.Duration
}

// Manager owns the session lifecycle. Every mutation of a session id runs
// with that id's mutex held and is written through an optimistic
// versioned update, so interleaved operations on the same session cannot
// lose each other's writes. Secondary structures (room code, visibility
// index, user-session pointers) are kept consistent in the same logical
// operation and repaired lazily on read when drift slips through.
type Manager struct {
	store    store.Store
	locks    *store.KeyMutex
	codes    *roomcode.Registry
	index    *visibility.Index
	users    *directory.Directory
	personas *persona.Service
	opts     Options

	now        func() time.Time
	newID      func() string
	pickDealer func(players []domain.Player) string
}

// NewManager wires the session manager.
func NewManager(s store.Store, codes *roomcode.Registry, index *visibility.Index, users *directory.Directory, personas *persona.Service, opts Options) *Manager {
	if opts.MaxPlayersLimit <= 0 {
		opts.MaxPlayersLimit = 12
	}
	if opts.LiveTTL <= 0 {
		opts.LiveTTL = 24 * time.Hour
	}
	if opts.CompletedTTL <= 0 {
		opts.CompletedTTL = 10 * time.Minute
	}
	return &Manager{
		store:    s,
		locks:    store.NewKeyMutex(),
		codes:    codes,
		index:    index,
		users:    users,
		personas: personas,
		opts:     opts,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		pickDealer: func(players []domain.Player) string {
			return players[rand.Intn(len(players))].UserID
		},
	}
}

// Create builds a new waiting session with user as its sole host player. If
// the user still occupies another session they are forced out of it first; a
// user never occupies two sessions.
func (m *Manager) Create(ctx context.Context, user domain.UserRef, maxPlayers int, isPrivate bool) (*domain.Session, error) {
	if maxPlayers < 2 || maxPlayers > m.opts.MaxPlayersLimit {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxPlayers, maxPlayers)
	}

	if err := m.forceLeaveCurrent(ctx, user, ""); err != nil {
		return nil, err
	}

	id := m.newID()
	code, err := m.codes.GenerateAndRegister(ctx, id, isPrivate)
	if err != nil {
		return nil, err
	}

	now := m.now()
	sess := &domain.Session{
		SchemaVersion: domain.SchemaVersion,
		Version:       1,
		ID:            id,
		Code:          code,
		HostUserID:    user.ID,
		HostUsername:  user.Username,
		Players: []domain.Player{{
			UserID:   user.ID,
			Username: user.Username,
			JoinedAt: now,
			IsHost:   true,
		}},
		Status:     domain.SessionWaiting,
		MaxPlayers: maxPlayers,
		IsPrivate:  isPrivate,
		CreatedAt:  now,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := m.store.Set(ctx, store.SessionKey(id), data, m.opts.LiveTTL); err != nil {
		// Roll the code reservation back so it cannot dangle.
		if uerr := m.codes.Unregister(ctx, code); uerr != nil {
			ctxLogger := log.Ctx(ctx)
			ctxLogger.Warn().Err(uerr).Str(log.FieldRoomCode, code).Msg("failed to release code after create failure")
		}
		return nil, err
	}

	if err := m.index.Add(ctx, id, isPrivate); err != nil {
		return nil, err
	}
	if err := m.setPointer(ctx, user.ID, id); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionCreateSession, user.ID, "session created")
	return sess, nil
}

// Join adds user to a waiting session. A player who left this session before
// the game started rejoins with their former host status remembered (but is
// not re-promoted).
func (m *Manager) Join(ctx context.Context, sessionID string, user domain.UserRef) (*domain.Session, error) {
	if err := m.forceLeaveCurrent(ctx, user, sessionID); err != nil {
		return nil, err
	}

	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.mutate(ctx, sessionID, m.opts.LiveTTL, func(s *domain.Session) error {
		if s.PlayerIndex(user.ID) >= 0 {
			return nil // already seated
		}
		if s.Status != domain.SessionWaiting {
			return ErrInvalidState
		}
		if s.IsFull() {
			return ErrCapacityExceeded
		}

		player := domain.Player{
			UserID:   user.ID,
			Username: user.Username,
			JoinedAt: m.now(),
		}
		if i := s.PreviousPlayerIndex(user.ID); i >= 0 {
			player.WasHost = s.PreviousPlayers[i].WasHost
			s.PreviousPlayers = append(s.PreviousPlayers[:i], s.PreviousPlayers[i+1:]...)
		}
		s.Players = append(s.Players, player)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.setPointer(ctx, user.ID, sessionID); err != nil {
		return nil, err
	}
	// Re-assert index membership in case it drifted out.
	if sess.Status == domain.SessionWaiting {
		if err := m.index.Add(ctx, sessionID, sess.IsPrivate); err != nil {
			return nil, err
		}
	}

	audit.Log(ctx, audit.ActionJoinSession, user.ID, "player joined")
	return sess, nil
}

// Leave removes user from a session. Leaving a session that no longer exists
// is a no-op; the only NotFound here is the user record itself. When the last
// players drain out the session is deleted with its full cascade.
func (m *Manager) Leave(ctx context.Context, sessionID string, user domain.UserRef) error {
	if _, err := m.users.GetUser(ctx, user.ID); err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return err
	}

	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.mutate(ctx, sessionID, m.opts.LiveTTL, func(s *domain.Session) error {
		i := s.PlayerIndex(user.ID)
		if i < 0 {
			return errNoChange
		}

		player := s.Players[i]
		s.Players = append(s.Players[:i], s.Players[i+1:]...)

		// Remember departures from the lobby so a rejoin can restore host
		// priority later.
		if s.Status == domain.SessionWaiting {
			s.PreviousPlayers = append(s.PreviousPlayers, domain.Player{
				UserID:   player.UserID,
				Username: player.Username,
				JoinedAt: player.JoinedAt,
				WasHost:  player.IsHost || player.WasHost,
			})
		}

		if player.IsHost && len(s.Players) > 0 {
			promoteHost(s)
		}
		return nil
	})
	if err != nil {
		// A vanished session, or one this user already left, only needs the
		// pointer cleaned up.
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, errNoChange) {
			return m.clearPointer(ctx, user.ID, sessionID)
		}
		return err
	}

	if err := m.clearPointer(ctx, user.ID, sessionID); err != nil {
		return err
	}

	// A session with nobody in it, or a 1-player game already past the
	// lobby, cannot continue.
	if len(sess.Players) == 0 || (len(sess.Players) == 1 && sess.Status != domain.SessionWaiting) {
		if err := m.deleteSession(ctx, sess); err != nil {
			return err
		}
		audit.Log(ctx, audit.ActionLeaveSession, user.ID, "player left, session deleted")
		return nil
	}

	if sess.Status == domain.SessionWaiting {
		if err := m.index.Add(ctx, sessionID, sess.IsPrivate); err != nil {
			return err
		}
	}

	audit.Log(ctx, audit.ActionLeaveSession, user.ID, "player left")
	return nil
}

// promoteHost hands the host role to the first remaining player with former
// host status, else the first player by seat order.
func promoteHost(s *domain.Session) {
	next := 0
	for i, p := range s.Players {
		if p.WasHost {
			next = i
			break
		}
	}
	s.Players[next].IsHost = true
	s.Players[next].WasHost = false
	s.HostUserID = s.Players[next].UserID
	s.HostUsername = s.Players[next].Username
}

// StartCountdown moves a waiting session with at least two players into
// countdown. The dealer is drawn once here and never reassigned.
func (m *Manager) StartCountdown(ctx context.Context, sessionID string, user domain.UserRef) (*domain.Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.mutate(ctx, sessionID, m.opts.LiveTTL, func(s *domain.Session) error {
		if s.HostUserID != user.ID {
			return ErrNotHost
		}
		if s.Status != domain.SessionWaiting {
			return ErrInvalidState
		}
		if len(s.Players) < 2 {
			return ErrNotEnoughPlayers
		}

		now := m.now()
		s.Status = domain.SessionCountdown
		s.CountdownStartedAt = &now
		if s.DealerID == "" {
			s.DealerID = m.pickDealer(s.Players)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Countdown sessions are no longer discoverable.
	if err := m.index.Remove(ctx, sessionID); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionStartCountdown, user.ID, "countdown started")
	return sess, nil
}

// StartGame moves a countdown session to active. Joins are impossible from
// here on regardless of remaining capacity.
func (m *Manager) StartGame(ctx context.Context, sessionID string, user domain.UserRef, settings *domain.GameSettings) (*domain.Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.mutate(ctx, sessionID, m.opts.LiveTTL, func(s *domain.Session) error {
		if s.HostUserID != user.ID {
			return ErrNotHost
		}
		if s.Status != domain.SessionCountdown {
			return ErrInvalidState
		}

		now := m.now()
		s.Status = domain.SessionActive
		s.GameStartedAt = &now
		s.Settings = settings
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.index.Remove(ctx, sessionID); err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionStartGame, user.ID, "game started")
	return sess, nil
}

// Complete records the winner of an active session and bumps their win
// count. The session lingers under a short TTL so clients polling for the
// outcome can still read it; current-session reads treat it as gone.
func (m *Manager) Complete(ctx context.Context, sessionID string, user domain.UserRef, winnerID, winnerUsername string) (*domain.Session, error) {
	m.locks.Lock(sessionID)
	defer m.locks.Unlock(sessionID)

	sess, err := m.mutate(ctx, sessionID, m.opts.CompletedTTL, func(s *domain.Session) error {
		if s.Status != domain.SessionActive {
			return ErrInvalidState
		}

		now := m.now()
		s.Status = domain.SessionComplete
		s.CompletedAt = &now
		s.WinnerID = winnerID
		s.WinnerUsername = winnerUsername
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.index.Remove(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := m.codes.Unregister(ctx, sess.Code); err != nil {
		return nil, err
	}
	if err := m.users.IncrementWins(ctx, winnerID, winnerUsername); err != nil {
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionCompleteSession, user.ID, winnerID, "session completed")
	return sess, nil
}

// Get fetches a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := m.store.Get(ctx, store.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Current resolves the caller's session pointer. A completed session is
// returned exactly once, with the pointer cleared on the way out; stale
// pointers to vanished sessions are cleaned up and read as "no session".
func (m *Manager) Current(ctx context.Context, userID string) (*domain.Session, error) {
	data, err := m.store.Get(ctx, store.UserSessionKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sessionID := string(data)

	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, m.clearPointer(ctx, userID, sessionID)
		}
		return nil, err
	}

	if sess.Status == domain.SessionComplete {
		if err := m.clearPointer(ctx, userID, sessionID); err != nil {
			return nil, err
		}
		return sess, nil
	}

	// Pointer drift: the session no longer seats this user.
	if sess.PlayerIndex(userID) < 0 {
		return nil, m.clearPointer(ctx, userID, sessionID)
	}

	return sess, nil
}

// mutate runs fn against the freshest copy of the session inside the store's
// optimistic transaction, bumping the version on success. A conflicting
// concurrent write triggers one internal retry of the whole cycle.
func (m *Manager) mutate(ctx context.Context, sessionID string, ttl time.Duration, fn func(*domain.Session) error) (*domain.Session, error) {
	var out *domain.Session
	update := func(current []byte) ([]byte, error) {
		var sess domain.Session
		if err := json.Unmarshal(current, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
		}
		if err := fn(&sess); err != nil {
			return nil, err
		}
		sess.Version++
		out = &sess
		return json.Marshal(&sess)
	}

	err := m.store.Update(ctx, store.SessionKey(sessionID), ttl, update)
	if errors.Is(err, store.ErrConcurrentModification) {
		ctxLogger := log.Ctx(ctx)
		ctxLogger.Debug().Str(log.FieldSessionID, sessionID).Msg("session write conflict, retrying")
		err = m.store.Update(ctx, store.SessionKey(sessionID), ttl, update)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return out, nil
}

// deleteSession tears a session down: the record itself, its room code, its
// cached persona content, its index membership, and every remaining player's
// pointer into it.
func (m *Manager) deleteSession(ctx context.Context, sess *domain.Session) error {
	if err := m.index.Remove(ctx, sess.ID); err != nil {
		return err
	}
	for _, p := range sess.Players {
		if err := m.clearPointer(ctx, p.UserID, sess.ID); err != nil {
			return err
		}
	}
	if err := m.personas.Invalidate(ctx, sess.ID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, store.SessionKey(sess.ID), store.RoomCodeKey(sess.Code)); err != nil {
		return err
	}

	ctxLogger := log.Ctx(ctx)
	ctxLogger.Info().Str(log.FieldSessionID, sess.ID).Str(log.FieldRoomCode, sess.Code).Msg("session deleted")
	return nil
}

// forceLeaveCurrent ejects the user from whatever session their pointer
// names, so create/join never seats a user in two sessions at once. A pointer
// already naming exceptID is left alone.
func (m *Manager) forceLeaveCurrent(ctx context.Context, user domain.UserRef, exceptID string) error {
	data, err := m.store.Get(ctx, store.UserSessionKey(user.ID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if exceptID != "" && string(data) == exceptID {
		return nil
	}

	// Make sure the profile exists before Leave's user check runs; a first
	// request from a new user may carry a stale pointer from a prior deploy.
	if _, err := m.users.Touch(ctx, user.ID, user.Username); err != nil {
		return err
	}
	return m.Leave(ctx, string(data), user)
}

// setPointer points the user at a session.
func (m *Manager) setPointer(ctx context.Context, userID, sessionID string) error {
	return m.store.Set(ctx, store.UserSessionKey(userID), []byte(sessionID), m.opts.LiveTTL)
}

// clearPointer removes the user's pointer, but only while it still names the
// given session; the user may have moved on already.
func (m *Manager) clearPointer(ctx context.Context, userID, sessionID string) error {
	data, err := m.store.Get(ctx, store.UserSessionKey(userID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if string(data) != sessionID {
		return nil
	}
	return m.store.Delete(ctx, store.UserSessionKey(userID))
}
