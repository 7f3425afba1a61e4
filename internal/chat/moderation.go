package chat

import (
	"context"
	"errors"
	"time"

	"dankerchat/backend/internal/authz"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
)

const maxHistoryPage = 100

// Edit replaces the text of the user's own message and pushes the new
// version to everyone on the target.
func (s *Service) Edit(ctx context.Context, userID, messageID, content string) (MessagePayload, error) {
	msg, err := s.message(ctx, messageID)
	if err != nil {
		return MessagePayload{}, err
	}
	if !authz.CanEditMessage(userID, msg) {
		return MessagePayload{}, reject(CodeNotAuthorized, "not allowed to edit this message")
	}
	text, err := s.validateContent(models.MessageText, content)
	if err != nil {
		return MessagePayload{}, err
	}
	t, err := s.targetOf(ctx, msg)
	if err != nil {
		return MessagePayload{}, err
	}
	sender, err := s.profile(ctx, msg.SenderID)
	if err != nil {
		return MessagePayload{}, err
	}

	unlock, err := s.locks.acquire(ctx, t.key())
	if err != nil {
		return MessagePayload{}, s.internal(err, "acquire target lock")
	}
	defer unlock()

	updated, err := s.messages.UpdateContent(ctx, msg.ID, *text, s.now())
	if errors.Is(err, repository.ErrMessageNotFound) {
		return MessagePayload{}, reject(CodeTargetNotFound, "message not found")
	}
	if err != nil {
		return MessagePayload{}, s.internal(err, "update message")
	}

	payload := NewMessagePayload(updated, sender)
	s.registry.Deliver(s.audience(t, ""), realtime.Event{
		Name: EventMessageEdited,
		Data: MessageReceived{Message: payload},
	})
	return payload, nil
}

// Delete soft-deletes a message. Senders may delete their own; channel
// moderators and admins, and holders of the global permission, anyone's.
func (s *Service) Delete(ctx context.Context, userID, messageID string) error {
	msg, err := s.message(ctx, messageID)
	if err != nil {
		return err
	}
	t, err := s.targetOf(ctx, msg)
	if err != nil {
		return err
	}

	var m *models.Membership
	if t.kind == models.TargetChannel {
		if m, err = s.membership(ctx, t.id, userID); err != nil {
			return s.internal(err, "load membership")
		}
	}
	perms, err := s.users.PermissionsFor(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return s.internal(err, "load permissions")
	}
	if !authz.CanDeleteMessage(userID, msg, m, perms) {
		return reject(CodeNotAuthorized, "not allowed to delete this message")
	}

	unlock, err := s.locks.acquire(ctx, t.key())
	if err != nil {
		return s.internal(err, "acquire target lock")
	}
	defer unlock()

	if _, err := s.messages.SoftDelete(ctx, msg.ID, userID); err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			return reject(CodeTargetNotFound, "message not found")
		}
		return s.internal(err, "delete message")
	}

	s.registry.Deliver(s.audience(t, ""), realtime.Event{
		Name: EventMessageDeleted,
		Data: MessageDeleted{ID: msg.ID, Type: t.kind, TargetID: t.id, DeletedBy: userID},
	})
	return nil
}

// History pages backwards through a target the user can read. Deleted
// messages are included with their content removed.
func (s *Service) History(ctx context.Context, userID, targetType, targetID string, before *time.Time, limit int) ([]MessagePayload, error) {
	kind, err := models.ParseTargetType(targetType)
	if err != nil {
		return nil, reject(CodeValidation, "type must be channel or direct")
	}
	t, err := s.resolveReadable(ctx, userID, kind, targetID)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = s.opts.RecentLimit
	case limit > maxHistoryPage:
		limit = maxHistoryPage
	}
	msgs, err := s.messages.ListRecent(ctx, t.kind, t.id, before, limit, true)
	if err != nil {
		return nil, s.internal(err, "list messages")
	}
	return s.payloads(ctx, msgs), nil
}

func (s *Service) message(ctx context.Context, id string) (models.Message, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return models.Message{}, reject(CodeTargetNotFound, "message not found")
	}
	if err != nil {
		return models.Message{}, s.internal(err, "load message")
	}
	if msg.IsDeleted {
		return models.Message{}, reject(CodeTargetNotFound, "message not found")
	}
	return msg, nil
}

// targetOf loads the channel or conversation msg belongs to, without any access check.
func (s *Service) targetOf(ctx context.Context, msg models.Message) (target, error) {
	kind, id := msg.Target()
	t := target{kind: kind, id: id}
	switch kind {
	case models.TargetChannel:
		ch, err := s.channels.GetByID(ctx, id)
		if err != nil {
			return t, s.internal(err, "load channel")
		}
		t.channel = ch
	case models.TargetDirect:
		conv, err := s.conversations.GetByID(ctx, id)
		if err != nil {
			return t, s.internal(err, "load conversation")
		}
		t.conversation = conv
	default:
		return t, s.internal(models.ErrMessageTarget, "resolve message target")
	}
	return t, nil
}
