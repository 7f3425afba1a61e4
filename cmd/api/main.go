package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/cache"
	"dankerchat/backend/internal/chat"
	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/database"
	"dankerchat/backend/internal/gateway"
	"dankerchat/backend/internal/handlers"
	"dankerchat/backend/internal/jobs"
	"dankerchat/backend/internal/log"
	"dankerchat/backend/internal/middleware"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
	"dankerchat/backend/internal/security"
	"dankerchat/backend/internal/server"
	"dankerchat/backend/internal/service"
	"dankerchat/backend/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if err := database.EnsureSchema(ctx, dbPool); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply schema")
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis, "dankerchat-api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	users := repository.NewUserRepository(dbPool)
	channels := repository.NewChannelRepository(dbPool)
	conversations := repository.NewConversationRepository(dbPool)
	messages := repository.NewMessageRepository(dbPool)

	tokens := security.NewTokenIssuer(cfg.Security.TokenSecret)
	sessions := session.NewStore(repository.NewSessionRepository(dbPool), tokens, cfg.Security, logger)

	registry := realtime.NewRegistry()

	bus := cache.NewRevocationBus(redisClient, cfg.Security.RevocationTopic, uuid.NewString(), logger)
	sessions.SetBroadcaster(bus)
	go func() {
		if err := bus.Listen(ctx, sessions.DisconnectLocal); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("revocation listener stopped")
		}
	}()

	chatService := chat.NewService(registry, channels, conversations, messages, users, chat.OptionsFromConfig(cfg.Realtime), logger)
	sessions.OnRevoke(chatService)
	gw := gateway.New(sessions, users, chatService, registry, cfg.Realtime, logger)

	authService, err := service.NewAuthService(users, sessions, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init auth service")
	}

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:      logger,
		Config:   cfg,
		DB:       dbPool,
		Cache:    redisClient,
		Auth:     authService,
		Sessions: sessions,
		Users:    users,
		Chat:     chatService,
		Gateway:  gw,
		Registry: registry,
		Limiter:  middleware.NewRateLimiter(redisClient, logger),
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(redisClient, cfg.Maintenance, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	shutdown(logger, httpServer, scheduler, registry, dbPool, redisClient)
}

func shutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, registry *realtime.Registry, db *pgxpool.Pool, redisClient *redis.Client) {
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	// Hijacked websocket connections are not closed by http.Server.Shutdown.
	registry.Close()

	if scheduler != nil {
		scheduler.Stop()()
	}

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
