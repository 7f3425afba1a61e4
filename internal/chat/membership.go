package chat

import (
	"context"
	"errors"
	"fmt"

	"dankerchat/backend/internal/authz"
	"dankerchat/backend/internal/models"
	"dankerchat/backend/internal/realtime"
	"dankerchat/backend/internal/repository"
)

// Reasons carried by channel_left.
const (
	LeftVoluntarily = "left"
	LeftKicked      = "kicked"
)

// Enroll makes userID a plain member of a public channel.
func (s *Service) Enroll(ctx context.Context, userID, channelID string) (models.Membership, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if errors.Is(err, repository.ErrChannelNotFound) {
		return models.Membership{}, deniedRead(models.TargetChannel)
	}
	if err != nil {
		return models.Membership{}, s.internal(err, "load channel")
	}
	existing, err := s.membership(ctx, channelID, userID)
	if err != nil {
		return models.Membership{}, s.internal(err, "load membership")
	}

	if !authz.CanJoinChannel(ch, existing) {
		switch {
		case existing != nil:
			return models.Membership{}, reject(CodeValidation, "already a member of this channel")
		case ch.IsPrivate:
			return models.Membership{}, deniedRead(models.TargetChannel)
		case ch.IsArchived:
			return models.Membership{}, reject(CodeNotAuthorized, "channel is archived")
		default:
			return models.Membership{}, reject(CodeNotAuthorized, "channel is full")
		}
	}

	actor, err := s.profile(ctx, userID)
	if err != nil {
		return models.Membership{}, err
	}

	m := models.Membership{ChannelID: channelID, UserID: userID, JoinedAt: s.now(), Role: models.RoleMember}
	if err := s.channels.AddMember(ctx, m); err != nil {
		if errors.Is(err, repository.ErrAlreadyMember) {
			return models.Membership{}, reject(CodeValidation, "already a member of this channel")
		}
		if errors.Is(err, repository.ErrChannelFull) {
			return models.Membership{}, reject(CodeNotAuthorized, "channel is full")
		}
		return models.Membership{}, s.internal(err, "add member")
	}

	s.postSystem(ctx, channelTarget(ch), actor, models.MessageJoin, fmt.Sprintf("%s joined the channel", actor.DisplayName))
	return m, nil
}

// Withdraw removes userID's own membership. The only admin of a channel that
// still has other members must hand over first.
func (s *Service) Withdraw(ctx context.Context, userID, channelID string) error {
	ch, m, err := s.memberOf(ctx, channelID, userID)
	if err != nil {
		return err
	}

	if m.Role == models.RoleAdmin && ch.MemberCount > 1 {
		admins, err := s.channels.CountByRole(ctx, channelID, models.RoleAdmin)
		if err != nil {
			return s.internal(err, "count admins")
		}
		if admins <= 1 {
			return reject(CodeValidation, "promote another admin before leaving")
		}
	}

	actor, err := s.profile(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.channels.RemoveMember(ctx, channelID, userID); err != nil {
		return s.internal(err, "remove member")
	}

	t := channelTarget(ch)
	s.evict(t, userID, LeftVoluntarily)
	s.postSystem(ctx, t, actor, models.MessageLeave, fmt.Sprintf("%s left the channel", actor.DisplayName))
	s.announceLeft(t, actor)
	return nil
}

// Kick removes another member. Admins may kick anyone but other admins;
// moderators only plain members.
func (s *Service) Kick(ctx context.Context, actorID, channelID, targetUserID string) error {
	ch, actorM, targetM, err := s.manage(ctx, actorID, channelID, targetUserID)
	if err != nil {
		return err
	}
	if !authz.CanManageMember(actorM, targetM) {
		return reject(CodeNotAuthorized, "not allowed to kick this member")
	}

	actor, err := s.profile(ctx, actorID)
	if err != nil {
		return err
	}
	kicked, err := s.profile(ctx, targetUserID)
	if err != nil {
		return err
	}
	if err := s.channels.RemoveMember(ctx, channelID, targetUserID); err != nil {
		return s.internal(err, "remove member")
	}

	t := channelTarget(ch)
	s.evict(t, targetUserID, LeftKicked)
	s.postSystem(ctx, t, actor, models.MessageSystem, fmt.Sprintf("%s was removed by %s", kicked.DisplayName, actor.DisplayName))
	s.announceLeft(t, kicked)
	return nil
}

func (s *Service) Promote(ctx context.Context, actorID, channelID, targetUserID string) (models.Membership, error) {
	return s.changeRole(ctx, actorID, channelID, targetUserID, models.MemberRole.Promoted)
}

func (s *Service) Demote(ctx context.Context, actorID, channelID, targetUserID string) (models.Membership, error) {
	return s.changeRole(ctx, actorID, channelID, targetUserID, models.MemberRole.Demoted)
}

func (s *Service) changeRole(ctx context.Context, actorID, channelID, targetUserID string, step func(models.MemberRole) (models.MemberRole, bool)) (models.Membership, error) {
	ch, actorM, targetM, err := s.manage(ctx, actorID, channelID, targetUserID)
	if err != nil {
		return models.Membership{}, err
	}
	role, ok := step(targetM.Role)
	if !ok {
		return models.Membership{}, reject(CodeValidation, "role %s cannot be changed further this way", targetM.Role)
	}
	if !authz.CanAssignRole(actorM, targetM, role) {
		return models.Membership{}, reject(CodeNotAuthorized, "not allowed to make this member %s", role)
	}

	actor, err := s.profile(ctx, actorID)
	if err != nil {
		return models.Membership{}, err
	}
	subject, err := s.profile(ctx, targetUserID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.channels.UpdateRole(ctx, channelID, targetUserID, role); err != nil {
		return models.Membership{}, s.internal(err, "update role")
	}

	targetM.Role = role
	s.postSystem(ctx, channelTarget(ch), actor, models.MessageSystem,
		fmt.Sprintf("%s is now %s (set by %s)", subject.DisplayName, role, actor.DisplayName))
	return targetM, nil
}

func (s *Service) Mute(ctx context.Context, actorID, channelID, targetUserID string) (models.Membership, error) {
	return s.setMuted(ctx, actorID, channelID, targetUserID, true)
}

func (s *Service) Unmute(ctx context.Context, actorID, channelID, targetUserID string) (models.Membership, error) {
	return s.setMuted(ctx, actorID, channelID, targetUserID, false)
}

func (s *Service) setMuted(ctx context.Context, actorID, channelID, targetUserID string, muted bool) (models.Membership, error) {
	ch, actorM, targetM, err := s.manage(ctx, actorID, channelID, targetUserID)
	if err != nil {
		return models.Membership{}, err
	}
	if !authz.CanManageMember(actorM, targetM) {
		return models.Membership{}, reject(CodeNotAuthorized, "not allowed to moderate this member")
	}
	if targetM.Muted == muted {
		return targetM, nil
	}

	actor, err := s.profile(ctx, actorID)
	if err != nil {
		return models.Membership{}, err
	}
	subject, err := s.profile(ctx, targetUserID)
	if err != nil {
		return models.Membership{}, err
	}
	if err := s.channels.SetMuted(ctx, channelID, targetUserID, muted); err != nil {
		return models.Membership{}, s.internal(err, "set muted")
	}

	verb := "muted"
	if !muted {
		verb = "unmuted"
	}
	targetM.Muted = muted
	s.postSystem(ctx, channelTarget(ch), actor, models.MessageSystem,
		fmt.Sprintf("%s was %s by %s", subject.DisplayName, verb, actor.DisplayName))
	return targetM, nil
}

// manage loads the channel and both memberships for an action by actorID on
// another member.
func (s *Service) manage(ctx context.Context, actorID, channelID, targetUserID string) (models.Channel, models.Membership, models.Membership, error) {
	var none models.Membership
	if actorID == targetUserID {
		return models.Channel{}, none, none, reject(CodeValidation, "cannot apply this action to yourself")
	}
	ch, actorM, err := s.memberOf(ctx, channelID, actorID)
	if err != nil {
		return models.Channel{}, none, none, err
	}
	targetM, err := s.membership(ctx, channelID, targetUserID)
	if err != nil {
		return models.Channel{}, none, none, s.internal(err, "load membership")
	}
	if targetM == nil {
		return models.Channel{}, none, none, reject(CodeTargetNotFound, "user is not a member of this channel")
	}
	return ch, actorM, *targetM, nil
}

// memberOf loads a channel together with userID's membership, failing when
// the user does not belong to it.
func (s *Service) memberOf(ctx context.Context, channelID, userID string) (models.Channel, models.Membership, error) {
	ch, err := s.channels.GetByID(ctx, channelID)
	if errors.Is(err, repository.ErrChannelNotFound) {
		return models.Channel{}, models.Membership{}, reject(CodeNotAuthorized, "not a member of this channel")
	}
	if err != nil {
		return models.Channel{}, models.Membership{}, s.internal(err, "load channel")
	}
	m, err := s.membership(ctx, channelID, userID)
	if err != nil {
		return models.Channel{}, models.Membership{}, s.internal(err, "load membership")
	}
	if m == nil {
		return models.Channel{}, models.Membership{}, reject(CodeNotAuthorized, "not a member of this channel")
	}
	return ch, *m, nil
}

func (s *Service) profile(ctx context.Context, userID string) (models.Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return models.Profile{}, reject(CodeTargetNotFound, "user not found")
	}
	if err != nil {
		return models.Profile{}, s.internal(err, "load user")
	}
	return u.Profile(), nil
}

// evict drops every subscription userID holds on t and tells all of the
// user's devices why.
func (s *Service) evict(t target, userID, reason string) {
	s.registry.UnsubscribeUser(userID, t.key())
	s.registry.Deliver(s.registry.OtherDevices(userID, ""), realtime.Event{
		Name: EventChannelLeft,
		Data: ChannelLeft{ChannelID: t.id, Reason: reason},
	})
}

func (s *Service) announceLeft(t target, user models.Profile) {
	s.registry.Deliver(s.registry.FanoutTargets(t.key(), ""), realtime.Event{
		Name: EventUserLeftChannel,
		Data: PresencePayload{ChannelID: t.id, User: user},
	})
}

func channelTarget(ch models.Channel) target {
	return target{kind: models.TargetChannel, id: ch.ID, channel: ch}
}
