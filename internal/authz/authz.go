// Package authz answers who may read, write and manage channels,
// conversations and messages. Every function is pure: callers resolve
// the channel, membership and conversation rows beforehand.
package authz

import "dankerchat/backend/internal/models"

// CanReadChannel: public channels are readable by anyone, private ones only by members.
func CanReadChannel(ch models.Channel, m *models.Membership) bool {
	return !ch.IsPrivate || isMemberOf(ch, m)
}

// VisibleInListing mirrors CanReadChannel so private channels never show up for outsiders.
func VisibleInListing(ch models.Channel, m *models.Membership) bool {
	return CanReadChannel(ch, m)
}

// CanSendChannel requires an actual membership row, even on public channels.
func CanSendChannel(ch models.Channel, m *models.Membership) bool {
	if !isMemberOf(ch, m) {
		return false
	}
	return CanReadChannel(ch, m) && !ch.IsArchived && !m.Muted
}

// CanJoinChannel covers self-service joins: public, open, not full, not already in.
func CanJoinChannel(ch models.Channel, m *models.Membership) bool {
	return !ch.IsPrivate && !ch.IsArchived && !ch.Full() && m == nil
}

func CanReadConversation(userID string, conv models.Conversation) bool {
	return conv.HasParticipant(userID)
}

func CanSendConversation(senderID string, conv models.Conversation, recipientActive bool) bool {
	if !conv.HasParticipant(senderID) {
		return false
	}
	recipient := conv.Other(senderID)
	return recipient != senderID && recipientActive
}

// CanManageMember: moderators and admins manage members of strictly lower
// rank. An admin may also act on their own membership.
func CanManageMember(actor, target models.Membership) bool {
	if actor.ChannelID != target.ChannelID || target.Role.Rank() == 0 {
		return false
	}
	if actor.Role.Rank() < models.RoleModerator.Rank() {
		return false
	}
	if actor.Role == models.RoleAdmin && target.UserID == actor.UserID {
		return true
	}
	return target.Role.Rank() < actor.Role.Rank()
}

// CanAssignRole decides whether actor may move target to role. The target must
// be manageable and the new role may not outrank a moderator's own.
func CanAssignRole(actor, target models.Membership, role models.MemberRole) bool {
	if role.Rank() == 0 || !CanManageMember(actor, target) {
		return false
	}
	if actor.Role == models.RoleAdmin {
		return true
	}
	return role.Rank() < actor.Role.Rank()
}

func CanModerateMessages(m *models.Membership) bool {
	return m != nil && m.Role.Rank() >= models.RoleModerator.Rank()
}

// CanEditMessage: only the sender, only text, never once deleted.
func CanEditMessage(userID string, msg models.Message) bool {
	return msg.SenderID == userID && msg.Type == models.MessageText && !msg.IsDeleted
}

// CanDeleteMessage allows the sender, channel moderators and admins, and
// holders of the global delete permission. m is the deleter's membership in
// the message's channel, nil for direct messages or non-members.
func CanDeleteMessage(userID string, msg models.Message, m *models.Membership, perms models.Permissions) bool {
	if msg.IsDeleted {
		return false
	}
	if msg.SenderID == userID || perms.Has(models.PermissionDeleteMessages) {
		return true
	}
	if msg.ChannelID == nil || m == nil || m.ChannelID != *msg.ChannelID {
		return false
	}
	return CanModerateMessages(m)
}

func isMemberOf(ch models.Channel, m *models.Membership) bool {
	return m != nil && m.ChannelID == ch.ID
}
