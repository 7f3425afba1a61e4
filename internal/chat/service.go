// Package chat is the realtime core: it authorizes, persists, sequences and
// fans out messages, typing signals and channel presence.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"dankerchat/backend/internal/authz"
	"dankerchat/backend/internal/config"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
)

type Channels interface {
	GetByID(ctx context.Context, id string) (models.Channel, error)
	GetMembership(ctx context.Context, channelID, userID string) (models.Membership, error)
	AddMember(ctx context.Context, m models.Membership) error
	RemoveMember(ctx context.Context, channelID, userID string) error
	UpdateRole(ctx context.Context, channelID, userID string, role models.MemberRole) error
	SetMuted(ctx context.Context, channelID, userID string, muted bool) error
	CountByRole(ctx context.Context, channelID string, role models.MemberRole) (int, error)
}

type Conversations interface {
	GetByID(ctx context.Context, id string) (models.Conversation, error)
	FindOrCreate(ctx context.Context, userA, userB string) (models.Conversation, error)
}

type Messages interface {
	Append(ctx context.Context, msg models.Message) (models.Message, error)
	GetByID(ctx context.Context, id string) (models.Message, error)
	UpdateContent(ctx context.Context, id string, content string, editedAt time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, id string, deletedBy string) (models.Message, error)
	ListAfter(ctx context.Context, targetType models.TargetType, targetID string, after time.Time, limit int) ([]models.Message, error)
	ListRecent(ctx context.Context, targetType models.TargetType, targetID string, before *time.Time, limit int, includeDeleted bool) ([]models.Message, error)
}

type Users interface {
	GetByID(ctx context.Context, id string) (models.User, error)
	IsActive(ctx context.Context, id string) (bool, error)
	PermissionsFor(ctx context.Context, id string) (models.Permissions, error)
	Profiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

type Options struct {
	SendTimeout      time.Duration
	TypingWindow     time.Duration
	RecentLimit      int
	MaxContentLength int
}

func OptionsFromConfig(cfg config.RealtimeConfig) Options {
	return Options{
		SendTimeout:      cfg.SendTimeout,
		TypingWindow:     cfg.TypingWindow,
		RecentLimit:      cfg.RecentLimit,
		MaxContentLength: cfg.MaxContentLength,
	}
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.TypingWindow <= 0 {
		o.TypingWindow = 3 * time.Second
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = 50
	}
	if o.MaxContentLength <= 0 {
		o.MaxContentLength = 5000
	}
	return o
}

type Service struct {
	registry      *realtime.Registry
	channels      Channels
	conversations Conversations
	messages      Messages
	users         Users
	opts          Options
	locks         *targetLocks
	log           zerolog.Logger
	now           func() time.Time
}

func NewService(
	registry *realtime.Registry,
	channels Channels,
	conversations Conversations,
	messages Messages,
	users Users,
	opts Options,
	log zerolog.Logger,
) *Service {
	return &Service{
		registry:      registry,
		channels:      channels,
		conversations: conversations,
		messages:      messages,
		users:         users,
		opts:          opts.withDefaults(),
		locks:         newTargetLocks(),
		log:           log.With().Str("component", "chat").Logger(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// target is a resolved channel or conversation.
type target struct {
	kind         models.TargetType
	id           string
	channel      models.Channel
	conversation models.Conversation
}

func (t target) key() string {
	return realtime.TargetKey(t.kind, t.id)
}

// client returns the live registration behind connID, failing when the
// connection was dropped or its session has run out.
func (s *Service) client(connID string) (realtime.Client, error) {
	c, ok := s.registry.Lookup(connID)
	if !ok {
		return realtime.Client{}, reject(CodeNotAuthenticated, "connection is not authenticated")
	}
	if !s.now().Before(c.ExpiresAt) {
		return realtime.Client{}, reject(CodeNotAuthenticated, "session expired")
	}
	return c, nil
}

// CheckConnection is used by transports before handling each inbound event.
func (s *Service) CheckConnection(connID string) error {
	_, err := s.client(connID)
	return err
}

func (s *Service) membership(ctx context.Context, channelID, userID string) (*models.Membership, error) {
	m, err := s.channels.GetMembership(ctx, channelID, userID)
	if errors.Is(err, repository.ErrMembershipNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// deniedRead is the single answer for a target the user cannot read, whether
// or not it exists.
func deniedRead(kind models.TargetType) *Rejection {
	return reject(CodeNotAuthorized, "not authorized for this %s", kind)
}

// resolveReadable loads a target and checks the user can read it. Private
// channels and foreign conversations are reported exactly like missing ones.
func (s *Service) resolveReadable(ctx context.Context, userID string, kind models.TargetType, id string) (target, error) {
	t := target{kind: kind, id: id}
	denied := deniedRead(kind)

	switch kind {
	case models.TargetChannel:
		ch, err := s.channels.GetByID(ctx, id)
		if errors.Is(err, repository.ErrChannelNotFound) {
			return t, denied
		}
		if err != nil {
			return t, s.internal(err, "load channel")
		}
		m, err := s.membership(ctx, id, userID)
		if err != nil {
			return t, s.internal(err, "load membership")
		}
		if !authz.CanReadChannel(ch, m) {
			return t, denied
		}
		t.channel = ch
	case models.TargetDirect:
		conv, err := s.conversations.GetByID(ctx, id)
		if errors.Is(err, repository.ErrConversationNotFound) {
			return t, denied
		}
		if err != nil {
			return t, s.internal(err, "load conversation")
		}
		if !authz.CanReadConversation(userID, conv) {
			return t, denied
		}
		t.conversation = conv
	default:
		return t, reject(CodeValidation, "unknown target type %q", kind)
	}
	return t, nil
}

func (s *Service) internal(err error, op string) *Rejection {
	s.log.Error().Err(err).Str("op", op).Msg("chat operation failed")
	return errInternal
}

// audience lists the connections a target event goes to. Direct
// conversations also reach participants' devices that never subscribed.
func (s *Service) audience(t target, exclude string) []string {
	conns := s.registry.FanoutTargets(t.key(), exclude)
	if t.kind != models.TargetDirect {
		return conns
	}
	seen := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		seen[c] = struct{}{}
	}
	for _, user := range []string{t.conversation.Participant1, t.conversation.Participant2} {
		for _, c := range s.registry.OtherDevices(user, exclude) {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				conns = append(conns, c)
			}
		}
	}
	return conns
}

func (s *Service) profiles(ctx context.Context, msgs []models.Message) map[string]models.Profile {
	ids := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			ids = append(ids, m.SenderID)
		}
	}
	out, err := s.users.Profiles(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Msg("load sender profiles failed")
		out = map[string]models.Profile{}
	}
	return out
}

func (s *Service) payloads(ctx context.Context, msgs []models.Message) []MessagePayload {
	profiles := s.profiles(ctx, msgs)
	out := make([]MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		sender, ok := profiles[m.SenderID]
		if !ok {
			sender = models.Profile{ID: m.SenderID}
		}
		out = append(out, NewMessagePayload(m, sender))
	}
	return out
}
