package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"dankerchat/backend/internal/cache"
	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/database"
	"dankerchat/backend/internal/log"
	"dankerchat/backend/internal/queue"
	"dankerchat/backend/internal/repository"
	"dankerchat/backend/internal/security"
	"dankerchat/backend/internal/session"
	"dankerchat/backend/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("service", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis, "dankerchat-worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	defer dbPool.Close()

	tokens := security.NewTokenIssuer(cfg.Security.TokenSecret)
	sessions := session.NewStore(repository.NewSessionRepository(dbPool), tokens, cfg.Security, logger)
	sessions.SetBroadcaster(cache.NewRevocationBus(client, cfg.Security.RevocationTopic, "worker", logger))

	processor := tasks.NewProcessor(sessions, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Maintenance.Stream,
		cfg.Maintenance.Group,
		cfg.Maintenance.Consumer,
		cfg.Maintenance.ClaimInterval,
		logger,
		processor,
	)
	if err := consumer.EnsureGroup(ctx); err != nil {
		logger.Fatal().Err(err).Msg("create consumer group failed")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
