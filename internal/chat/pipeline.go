package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"dankerchat/backend/internal/authz"
	"dankerchat/backend/internal/ids"
	"dankerchat/backend/internal/metrics"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
)

type SendRequest struct {
	ConnID     string
	TargetType string
	TargetID   string
	Content    string
	TempID     string
}

// Send runs one message through authorize, persist, acknowledge and fanout.
// The per-target lock is held from authorization until fanout has been
// handed to every subscriber, so all subscribers see commit order.
// On rejection nothing is stored and nothing is fanned out.
func (s *Service) Send(ctx context.Context, req SendRequest) (ack Ack, err error) {
	defer func() {
		if err != nil {
			metrics.SendRejections.WithLabelValues(string(AsRejection(err).Code)).Inc()
		}
	}()

	client, err := s.client(req.ConnID)
	if err != nil {
		return Ack{}, err
	}

	kind, err := models.ParseTargetType(req.TargetType)
	if err != nil {
		return Ack{}, reject(CodeValidation, "type must be channel or direct")
	}
	if strings.TrimSpace(req.TargetID) == "" {
		return Ack{}, reject(CodeValidation, "target_id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()

	t, err := s.resolveSendTarget(ctx, client.UserID, kind, req.TargetID)
	if err != nil {
		return Ack{}, err
	}

	unlock, err := s.locks.acquire(ctx, t.key())
	if err != nil {
		return Ack{}, s.internal(err, "acquire target lock")
	}
	defer unlock()

	if err := s.authorizeSend(ctx, client.UserID, t); err != nil {
		return Ack{}, err
	}

	content, err := s.validateContent(models.MessageText, req.Content)
	if err != nil {
		return Ack{}, err
	}

	msg, err := s.commit(ctx, t, client.UserID, models.MessageText, content)
	if err != nil {
		return Ack{}, err
	}

	ack = Ack{TempID: req.TempID, MessageID: msg.ID, Timestamp: msg.CreatedAt}
	if err := s.registry.SendTo(req.ConnID, realtime.Event{Name: EventMessageAck, Data: ack}); err != nil {
		s.log.Debug().Err(err).Str("conn_id", req.ConnID).Msg("ack not delivered")
	}

	s.fanoutMessage(t, msg, client.Profile, req.ConnID)
	return ack, nil
}

// resolveSendTarget finds the channel or conversation. A direct target may be
// a conversation id or the recipient's user id; the latter finds or creates
// the pair's conversation.
func (s *Service) resolveSendTarget(ctx context.Context, senderID string, kind models.TargetType, id string) (target, error) {
	t := target{kind: kind, id: id}

	if kind == models.TargetChannel {
		ch, err := s.channels.GetByID(ctx, id)
		if errors.Is(err, repository.ErrChannelNotFound) {
			return t, reject(CodeTargetNotFound, "channel not found")
		}
		if err != nil {
			return t, s.internal(err, "load channel")
		}
		t.channel = ch
		return t, nil
	}

	conv, err := s.conversations.GetByID(ctx, id)
	if err == nil {
		t.conversation = conv
		return t, nil
	}
	if !errors.Is(err, repository.ErrConversationNotFound) {
		return t, s.internal(err, "load conversation")
	}

	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return t, reject(CodeTargetNotFound, "conversation not found")
		}
		return t, s.internal(err, "load recipient")
	}
	if id == senderID {
		return t, reject(CodeNotAuthorized, "cannot message yourself")
	}
	active, err := s.users.IsActive(ctx, id)
	if err != nil {
		return t, s.internal(err, "check recipient")
	}
	if !active {
		return t, reject(CodeNotAuthorized, "recipient account is inactive")
	}

	conv, err = s.conversations.FindOrCreate(ctx, senderID, id)
	if err != nil {
		return t, s.internal(err, "open conversation")
	}
	t.id = conv.ID
	t.conversation = conv
	return t, nil
}

func (s *Service) authorizeSend(ctx context.Context, senderID string, t target) error {
	switch t.kind {
	case models.TargetChannel:
		m, err := s.membership(ctx, t.id, senderID)
		if err != nil {
			return s.internal(err, "load membership")
		}
		if !authz.CanSendChannel(t.channel, m) {
			return reject(CodeNotAuthorized, "not allowed to send to this channel")
		}
	case models.TargetDirect:
		if !t.conversation.HasParticipant(senderID) {
			return reject(CodeNotAuthorized, "not a participant of this conversation")
		}
		active, err := s.users.IsActive(ctx, t.conversation.Other(senderID))
		if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
			return s.internal(err, "check recipient")
		}
		if !authz.CanSendConversation(senderID, t.conversation, active) {
			return reject(CodeNotAuthorized, "not allowed to send to this conversation")
		}
	}
	return nil
}

// validateContent trims text and enforces the length cap. Non-text types may be empty.
func (s *Service) validateContent(kind models.MessageType, raw string) (*string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		if kind == models.MessageText {
			return nil, reject(CodeValidation, "content must not be empty")
		}
		return nil, nil
	}
	if utf8.RuneCountInString(content) > s.opts.MaxContentLength {
		return nil, reject(CodeValidation, "content exceeds %d characters", s.opts.MaxContentLength)
	}
	return &content, nil
}

// commit persists msg. The caller holds the target lock.
func (s *Service) commit(ctx context.Context, t target, senderID string, kind models.MessageType, content *string) (models.Message, error) {
	msg := models.Message{
		ID:       ids.New(),
		SenderID: senderID,
		Content:  content,
		Type:     kind,
	}
	targetID := t.id
	if t.kind == models.TargetChannel {
		msg.ChannelID = &targetID
	} else {
		msg.ConversationID = &targetID
	}

	start := time.Now()
	saved, err := s.messages.Append(ctx, msg)
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return models.Message{}, s.internal(err, "persist message")
	}
	metrics.MessagesPersisted.WithLabelValues(string(t.kind)).Inc()
	return saved, nil
}

func (s *Service) fanoutMessage(t target, msg models.Message, sender models.Profile, exclude string) {
	ev := realtime.Event{
		Name: EventMessageReceived,
		Data: MessageReceived{Message: NewMessagePayload(msg, sender)},
	}
	s.registry.Deliver(s.audience(t, exclude), ev)
}

// postSystem commits a server-generated message and fans it out to everyone on the target.
func (s *Service) postSystem(ctx context.Context, t target, actor models.Profile, kind models.MessageType, text string) {
	unlock, err := s.locks.acquire(ctx, t.key())
	if err != nil {
		s.log.Warn().Err(err).Str("target", t.key()).Msg("system message skipped")
		return
	}
	defer unlock()

	content, err := s.validateContent(kind, text)
	if err != nil {
		return
	}
	msg, err := s.commit(ctx, t, actor.ID, kind, content)
	if err != nil {
		return
	}
	s.fanoutMessage(t, msg, actor, "")
}
