package chat

import (
	"context"
	"strings"
	"time"

	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
)

// Join subscribes the connection to a channel and returns what it needs to
// catch up. With a watermark the result holds every non-deleted message
// created after it; without one, the most recent page. Repeating a join is
// harmless.
func (s *Service) Join(ctx context.Context, connID, channelID string, watermark *time.Time) (JoinResult, error) {
	client, err := s.client(connID)
	if err != nil {
		return JoinResult{}, err
	}
	if strings.TrimSpace(channelID) == "" {
		return JoinResult{}, reject(CodeValidation, "channel_id is required")
	}

	t, err := s.resolveReadable(ctx, client.UserID, models.TargetChannel, channelID)
	if err != nil {
		return JoinResult{}, err
	}

	added, firstDevice, err := s.registry.Subscribe(connID, t.key())
	if err != nil {
		return JoinResult{}, reject(CodeNotAuthenticated, "connection is not authenticated")
	}

	var msgs []models.Message
	if watermark != nil {
		msgs, err = s.messages.ListAfter(ctx, t.kind, t.id, *watermark, 0)
	} else {
		msgs, err = s.messages.ListRecent(ctx, t.kind, t.id, nil, s.opts.RecentLimit, false)
	}
	if err != nil {
		return JoinResult{}, s.internal(err, "load recent messages")
	}

	result := JoinResult{
		Channel:        summarize(t.channel),
		RecentMessages: s.payloads(ctx, msgs),
		MembersOnline:  s.registry.OnlineUsers(t.key()),
	}

	if added && firstDevice {
		s.registry.Deliver(s.audience(t, connID), realtime.Event{
			Name: EventUserJoinedChannel,
			Data: PresencePayload{ChannelID: t.id, User: client.Profile},
		})
	}
	return result, nil
}

// Leave drops the connection's subscription. Presence is announced once the
// user's last device has left.
func (s *Service) Leave(ctx context.Context, connID, channelID string) (ChannelLeft, error) {
	client, err := s.client(connID)
	if err != nil {
		return ChannelLeft{}, err
	}
	if strings.TrimSpace(channelID) == "" {
		return ChannelLeft{}, reject(CodeValidation, "channel_id is required")
	}

	key := realtime.TargetKey(models.TargetChannel, channelID)
	if s.registry.Unsubscribe(connID, key) && !s.registry.UserSubscribed(client.UserID, key, "") {
		s.registry.Deliver(s.registry.FanoutTargets(key, connID), realtime.Event{
			Name: EventUserLeftChannel,
			Data: PresencePayload{ChannelID: channelID, User: client.Profile},
		})
	}
	return ChannelLeft{ChannelID: channelID}, nil
}

// Disconnect is called by the transport when a connection goes away.
func (s *Service) Disconnect(connID string) {
	if d, ok := s.registry.Detach(connID); ok {
		s.announceDeparture([]realtime.Detached{d})
	}
}

// DisconnectSession closes every connection of a revoked session and tells
// the channels they were on, where that was the user's last device.
func (s *Service) DisconnectSession(sessionID string) int {
	dropped := s.registry.DetachSession(sessionID)
	s.announceDeparture(dropped)
	return len(dropped)
}

func (s *Service) announceDeparture(dropped []realtime.Detached) {
	channelPrefix := string(models.TargetChannel) + ":"
	announced := make(map[string]struct{})
	for _, d := range dropped {
		for _, key := range d.Targets {
			if !strings.HasPrefix(key, channelPrefix) {
				continue
			}
			seen := d.Client.UserID + "|" + key
			if _, ok := announced[seen]; ok || s.registry.UserSubscribed(d.Client.UserID, key, "") {
				continue
			}
			announced[seen] = struct{}{}
			s.registry.Deliver(s.registry.FanoutTargets(key, ""), realtime.Event{
				Name: EventUserLeftChannel,
				Data: PresencePayload{ChannelID: strings.TrimPrefix(key, channelPrefix), User: d.Client.Profile},
			})
		}
	}
}

func summarize(ch models.Channel) ChannelSummary {
	return ChannelSummary{
		ID:          ch.ID,
		Name:        ch.Name,
		DisplayName: ch.DisplayName,
		MemberCount: ch.MemberCount,
	}
}
