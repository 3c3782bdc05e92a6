package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/auth"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/directory"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/domain"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/persona"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/roomcode"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/session"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/visibility"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
	"github.com/TobyVincentJohn/wheedle-sub000/pkg/response"
)

// Handler handles HTTP requests for the session service.
type Handler struct {
	sessions       *session.Manager
	codes          *roomcode.Registry
	index          *visibility.Index
	users          *directory.Directory
	personas       *persona.Service
	authMiddleware *auth.Middleware
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions *session.Manager, codes *roomcode.Registry, index *visibility.Index, users *directory.Directory, personas *persona.Service, authMiddleware *auth.Middleware) *Handler {
	return &Handler{
		sessions:       sessions,
		codes:          codes,
		index:          index,
		users:          users,
		personas:       personas,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		sessions := api.Group("/sessions")
		{
			// Public routes
			sessions.GET("/public", h.ListPublicSessions)
			sessions.GET("/by-code/:code/:visibility", h.ResolveCode)

			// Protected routes
			sessions.POST("", h.authMiddleware.RequireAuth(), h.CreateSession)
			sessions.GET("/current", h.authMiddleware.RequireAuth(), h.CurrentSession)
			sessions.GET("/:id", h.GetSession)
			sessions.POST("/:id/join", h.authMiddleware.RequireAuth(), h.JoinSession)
			sessions.POST("/:id/leave", h.authMiddleware.RequireAuth(), h.LeaveSession)
			sessions.POST("/:id/start-countdown", h.authMiddleware.RequireAuth(), h.StartCountdown)
			sessions.POST("/:id/start", h.authMiddleware.RequireAuth(), h.StartGame)
			sessions.POST("/:id/complete", h.authMiddleware.RequireAuth(), h.CompleteSession)
			sessions.GET("/:id/persona", h.authMiddleware.RequireAuth(), h.GetPersona)
		}

		users := api.Group("/users")
		{
			users.GET("/active", h.ActiveUsers)
			users.POST("/heartbeat", h.authMiddleware.RequireAuth(), h.Heartbeat)
		}

		api.GET("/leaderboard", h.Leaderboard)
	}
}

// CreateSession creates a new session with the caller as host.
func (h *Handler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind create session request")
		response.BadRequest(c, err.Error())
		return
	}

	if _, err := h.users.Touch(ctx, user.ID, user.Username); err != nil {
		l.Error().Err(err).Msg("failed to touch user profile")
		response.InternalError(c, "failed to create session")
		return
	}

	sess, err := h.sessions.Create(ctx, user, req.MaxPlayers, req.IsPrivate)
	if err != nil {
		h.sessionError(c, err, "failed to create session")
		return
	}

	response.Created(c, sess)
}

// GetSession retrieves a session by ID.
func (h *Handler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()

	sess, err := h.sessions.Get(ctx, c.Param("id"))
	if err != nil {
		h.sessionError(c, err, "failed to get session")
		return
	}

	response.Success(c, sess)
}

// ListPublicSessions lists joinable public sessions.
func (h *Handler) ListPublicSessions(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	sessions, err := h.index.List(ctx, false)
	if err != nil {
		l.Error().Err(err).Msg("failed to list public sessions")
		response.InternalError(c, "failed to list sessions")
		return
	}

	response.Success(c, sessions)
}

// ResolveCode resolves a room code for the requested visibility.
func (h *Handler) ResolveCode(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	code := c.Param("code")
	var wantPrivate bool
	switch c.Param("visibility") {
	case "public":
		wantPrivate = false
	case "private":
		wantPrivate = true
	default:
		response.BadRequest(c, "visibility must be public or private")
		return
	}

	sess, err := h.codes.Resolve(ctx, code, wantPrivate)
	if err != nil {
		switch {
		case errors.Is(err, roomcode.ErrCodeNotFound):
			response.NotFound(c, "room not found")
		case errors.Is(err, roomcode.ErrVisibilityMismatch):
			response.BadRequest(c, "wrong room type")
		case errors.Is(err, roomcode.ErrNotAcceptingPlayers):
			response.NotFound(c, "room is no longer accepting players")
		default:
			l.Error().Err(err).Str(log.FieldRoomCode, code).Msg("failed to resolve room code")
			response.InternalError(c, "failed to resolve room code")
		}
		return
	}

	response.Success(c, sess)
}

// CurrentSession returns the caller's current session, or null.
func (h *Handler) CurrentSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	sess, err := h.sessions.Current(ctx, user.ID)
	if err != nil {
		l.Error().Err(err).Msg("failed to get current session")
		response.InternalError(c, "failed to get current session")
		return
	}

	response.Success(c, sess)
}

// JoinSession seats the caller in a session.
func (h *Handler) JoinSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	if _, err := h.users.Touch(ctx, user.ID, user.Username); err != nil {
		l.Error().Err(err).Msg("failed to touch user profile")
		response.InternalError(c, "failed to join session")
		return
	}

	sess, err := h.sessions.Join(ctx, c.Param("id"), user)
	if err != nil {
		h.sessionError(c, err, "failed to join session")
		return
	}

	response.Success(c, sess)
}

// LeaveSession removes the caller from a session.
func (h *Handler) LeaveSession(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	if err := h.sessions.Leave(ctx, c.Param("id"), user); err != nil {
		h.sessionError(c, err, "failed to leave session")
		return
	}

	response.Success(c, gin.H{"message": "left session"})
}

// StartCountdown begins the pre-game countdown.
func (h *Handler) StartCountdown(c *gin.Context) {
	ctx := c.Request.Context()

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	sess, err := h.sessions.StartCountdown(ctx, c.Param("id"), user)
	if err != nil {
		h.sessionError(c, err, "failed to start countdown")
		return
	}

	response.Success(c, sess)
}

// StartGame transitions a countdown session to active.
func (h *Handler) StartGame(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.StartGameRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			l.Warn().Err(err).Msg("failed to bind start game request")
			response.BadRequest(c, err.Error())
			return
		}
	}

	sess, err := h.sessions.StartGame(ctx, c.Param("id"), user, req.Settings())
	if err != nil {
		h.sessionError(c, err, "failed to start game")
		return
	}

	response.Success(c, sess)
}

// CompleteSession records the winner of an active session.
func (h *Handler) CompleteSession(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req domain.CompleteSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind complete session request")
		response.BadRequest(c, err.Error())
		return
	}

	sess, err := h.sessions.Complete(ctx, c.Param("id"), user, req.WinnerID, req.WinnerUsername)
	if err != nil {
		h.sessionError(c, err, "failed to complete session")
		return
	}

	response.Success(c, sess)
}

// GetPersona returns the session's generated persona content. Only seated
// players may read it.
func (h *Handler) GetPersona(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	sessionID := c.Param("id")
	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		h.sessionError(c, err, "failed to get persona")
		return
	}
	if sess.PlayerIndex(user.ID) < 0 {
		response.Forbidden(c, "you are not in this session")
		return
	}

	content, err := h.personas.Get(ctx, sessionID)
	if err != nil {
		l.Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to get persona content")
		response.InternalError(c, "failed to get persona")
		return
	}

	response.Success(c, content)
}

// Leaderboard returns the top users by win count.
func (h *Handler) Leaderboard(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			response.BadRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := h.users.Leaderboard(ctx, limit)
	if err != nil {
		l.Error().Err(err).Msg("failed to load leaderboard")
		response.InternalError(c, "failed to load leaderboard")
		return
	}

	response.Success(c, entries)
}

// ActiveUsers lists users active within the last five minutes.
func (h *Handler) ActiveUsers(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	users, err := h.users.ActiveUsers(ctx)
	if err != nil {
		l.Error().Err(err).Msg("failed to list active users")
		response.InternalError(c, "failed to list active users")
		return
	}

	response.Success(c, users)
}

// Heartbeat refreshes the caller's activity timestamp.
func (h *Handler) Heartbeat(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	user, ok := auth.CurrentUser(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	profile, err := h.users.Touch(ctx, user.ID, user.Username)
	if err != nil {
		l.Error().Err(err).Msg("failed to record heartbeat")
		response.InternalError(c, "failed to record heartbeat")
		return
	}

	response.Success(c, profile)
}

// sessionError maps session manager errors onto HTTP responses.
func (h *Handler) sessionError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		response.NotFound(c, "session not found")
	case errors.Is(err, session.ErrUserNotFound):
		response.NotFound(c, "user not found")
	case errors.Is(err, session.ErrInvalidState):
		response.Conflict(c, "operation not allowed in current session state")
	case errors.Is(err, session.ErrCapacityExceeded):
		response.Conflict(c, "session is full")
	case errors.Is(err, session.ErrNotEnoughPlayers):
		response.BadRequest(c, "not enough players")
	case errors.Is(err, session.ErrNotHost):
		response.Forbidden(c, "only the host can do that")
	case errors.Is(err, session.ErrInvalidMaxPlayers):
		response.BadRequest(c, "max players out of range")
	case errors.Is(err, store.ErrConcurrentModification):
		response.Conflict(c, "session was modified concurrently, retry")
	default:
		ctxLogger := log.Ctx(c.Request.Context())
		ctxLogger.Error().Err(err).Msg(logMsg)
		response.InternalError(c, logMsg)
	}
}
