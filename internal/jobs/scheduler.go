package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/tasks"
)

// Scheduler enqueues periodic maintenance onto the Redis stream the worker consumes.
type Scheduler struct {
	cron  *cron.Cron
	queue *redis.Client
	cfg   config.MaintenanceConfig
	log   zerolog.Logger
}

func NewScheduler(queue *redis.Client, cfg config.MaintenanceConfig, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		queue: queue,
		cfg:   cfg,
		log:   log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSchedule, s.enqueueSweep); err != nil {
		return fmt.Errorf("schedule session sweep %q: %w", s.cfg.SweepSchedule, err)
	}
	if s.queue == nil {
		return nil
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop. The returned func waits for a running job to finish.
func (s *Scheduler) Stop() func() {
	done := s.cron.Stop()
	return func() {
		select {
		case <-done.Done():
		case <-time.After(5 * time.Second):
			s.log.Warn().Msg("scheduler stop timed out")
		}
	}
}

func (s *Scheduler) enqueueSweep() {
	if err := s.enqueueTask(map[string]any{
		"type": tasks.TypeSessionsSweep,
	}); err != nil {
		s.log.Error().Err(err).Msg("enqueue session sweep failed")
	}
}

func (s *Scheduler) enqueueTask(payload map[string]any) error {
	if s.queue == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.queue.XAdd(ctx, &redis.XAddArgs{
		Stream: s.cfg.Stream,
		MaxLen: 1000,
		Approx: true,
		Values: payload,
	}).Result()
	return err
}
