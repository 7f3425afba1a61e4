package chat

import (
	"context"
	"strings"

	"dankerchat/backend/internal/metrics"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
)

// StartTyping tells everyone else on the target that the user is typing.
// Repeats from the same connection inside the typing window are coalesced.
func (s *Service) StartTyping(ctx context.Context, connID, targetType, targetID string) error {
	return s.typing(ctx, connID, targetType, targetID, true)
}

func (s *Service) StopTyping(ctx context.Context, connID, targetType, targetID string) error {
	return s.typing(ctx, connID, targetType, targetID, false)
}

func (s *Service) typing(ctx context.Context, connID, targetType, targetID string, started bool) error {
	client, err := s.client(connID)
	if err != nil {
		return err
	}
	kind, err := models.ParseTargetType(targetType)
	if err != nil {
		return reject(CodeValidation, "type must be channel or direct")
	}
	if strings.TrimSpace(targetID) == "" {
		return reject(CodeValidation, "target_id is required")
	}

	t, err := s.resolveReadable(ctx, client.UserID, kind, targetID)
	if err != nil {
		return err
	}

	name := EventUserStoppedTyping
	if started {
		if !s.registry.AllowTyping(connID, t.key(), s.opts.TypingWindow, s.now()) {
			metrics.TypingBroadcasts.WithLabelValues("coalesced").Inc()
			return nil
		}
		name = EventUserTyping
	} else {
		s.registry.ClearTyping(connID, t.key())
	}

	// None of the typist's own devices hear about it.
	own := make(map[string]struct{})
	own[connID] = struct{}{}
	for _, c := range s.registry.OtherDevices(client.UserID, connID) {
		own[c] = struct{}{}
	}
	audience := s.audience(t, connID)
	conns := audience[:0]
	for _, c := range audience {
		if _, skip := own[c]; !skip {
			conns = append(conns, c)
		}
	}

	s.registry.Deliver(conns, realtime.Event{
		Name: name,
		Data: TypingPayload{Type: t.kind, TargetID: t.id, User: client.Profile},
	})
	metrics.TypingBroadcasts.WithLabelValues("sent").Inc()
	return nil
}
