package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/TobyVincentJohn/wheedle-sub000/internal/auth"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/config"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/directory"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/handler"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/persona"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/roomcode"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/session"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/store"
	"github.com/TobyVincentJohn/wheedle-sub000/internal/visibility"
	pkglog "github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Level == "debug",
		ServiceName: "session-service",
	})
	logger := pkglog.L()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("auth.jwt_secret is required")
	}

	// Connect to Redis
	recordStore, err := store.NewRedisStore(cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer recordStore.Close()
	logger.Info().Msg("redis connected")

	// Initialize components
	codes := roomcode.NewRegistry(recordStore, cfg.Session.CodeLength, cfg.Session.CodeAttempts, cfg.Session.LiveTTL)
	index := visibility.NewIndex(recordStore)
	users := directory.New(recordStore)
	personas := persona.NewService(recordStore, &persona.ScriptedGenerator{}, cfg.Session.LiveTTL)

	sessions := session.NewManager(recordStore, codes, index, users, personas, session.Options{
		MaxPlayersLimit: cfg.Session.MaxPlayersLimit,
		LiveTTL:         cfg.Session.LiveTTL,
		CompletedTTL:    cfg.Session.CompletedTTL,
	})

	// Initialize auth middleware
	authMiddleware := auth.NewMiddleware(cfg.Auth.JWTSecret)

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(sessions, codes, index, users, personas, authMiddleware)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Register routes
	httpHandler.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", addr).Int("max_players_limit", cfg.Session.MaxPlayersLimit).Msg("session-service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
	}
}
