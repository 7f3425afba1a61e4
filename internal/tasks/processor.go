// Package tasks executes maintenance jobs pulled off the worker stream.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TypeSessionsSweep = "sessions.sweep"

// Sweeper deletes expired sessions and stale revoked ones.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type Processor struct {
	sessions Sweeper
	logger   zerolog.Logger
}

type TaskPayload struct {
	Type string `json:"type"`
}

func NewProcessor(sessions Sweeper, logger zerolog.Logger) *Processor {
	return &Processor{
		sessions: sessions,
		logger:   logger.With().Str("component", "tasks").Logger(),
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case TypeSessionsSweep:
		return p.handleSweep(ctx)
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}

func (p *Processor) handleSweep(ctx context.Context) error {
	n, err := p.sessions.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	p.logger.Info().Int("deleted", n).Msg("session sweep finished")
	return nil
}
