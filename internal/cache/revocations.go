package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type revocationNotice struct {
	Origin     string   `json:"origin"`
	SessionIDs []string `json:"session_ids"`
}

// RevocationBus fans session revocations out to every API node over pub/sub.
// Each node tags its own notices so it can skip them on receipt.
type RevocationBus struct {
	client *redis.Client
	topic  string
	nodeID string
	log    zerolog.Logger
}

func NewRevocationBus(client *redis.Client, topic, nodeID string, log zerolog.Logger) *RevocationBus {
	return &RevocationBus{
		client: client,
		topic:  topic,
		nodeID: nodeID,
		log:    log.With().Str("component", "revocation_bus").Logger(),
	}
}

func (b *RevocationBus) Publish(ctx context.Context, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(revocationNotice{Origin: b.nodeID, SessionIDs: sessionIDs})
	if err != nil {
		return fmt.Errorf("encode revocation: %w", err)
	}
	return b.client.Publish(ctx, b.topic, payload).Err()
}

// Listen blocks until ctx is done, invoking handle for every session revoked on another node.
func (b *RevocationBus) Listen(ctx context.Context, handle func(sessionID string)) error {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var notice revocationNotice
			if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
				b.log.Warn().Err(err).Msg("malformed revocation notice")
				continue
			}
			if notice.Origin == b.nodeID {
				continue
			}
			for _, id := range notice.SessionIDs {
				handle(id)
			}
		}
	}
}
