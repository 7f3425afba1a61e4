package chat

import (
	"time"

	"dankerchat/backend/internal/models"
)

// Outbound event names.
const (
	EventConnected         = "connected"
	EventChannelJoined     = "channel_joined"
	EventChannelLeft       = "channel_left"
	EventMessageAck        = "message_ack"
	EventMessageReceived   = "message_received"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserJoinedChannel = "user_joined_channel"
	EventUserLeftChannel   = "user_left_channel"
	EventError             = "error"
)

type MessagePayload struct {
	ID          string             `json:"id"`
	Content     *string            `json:"content"`
	Sender      models.Profile     `json:"sender"`
	Type        models.TargetType  `json:"type"`
	TargetID    string             `json:"target_id"`
	MessageType models.MessageType `json:"message_type"`
	Seq         int64              `json:"seq"`
	CreatedAt   time.Time          `json:"created_at"`
	EditedAt    *time.Time         `json:"edited_at,omitempty"`
	IsDeleted   bool               `json:"is_deleted"`
}

// NewMessagePayload renders the read projection of msg.
func NewMessagePayload(msg models.Message, sender models.Profile) MessagePayload {
	view := msg.Redacted()
	targetType, targetID := view.Target()
	return MessagePayload{
		ID:          view.ID,
		Content:     view.Content,
		Sender:      sender,
		Type:        targetType,
		TargetID:    targetID,
		MessageType: view.Type,
		Seq:         view.Seq,
		CreatedAt:   view.CreatedAt,
		EditedAt:    view.EditedAt,
		IsDeleted:   view.IsDeleted,
	}
}

type MessageReceived struct {
	Message MessagePayload `json:"message"`
}

type MessageDeleted struct {
	ID        string            `json:"id"`
	Type      models.TargetType `json:"type"`
	TargetID  string            `json:"target_id"`
	DeletedBy string            `json:"deleted_by"`
}

type Ack struct {
	TempID    string    `json:"temp_id,omitempty"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingPayload struct {
	Type     models.TargetType `json:"type"`
	TargetID string            `json:"target_id"`
	User     models.Profile    `json:"user"`
}

type ChannelSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	MemberCount int    `json:"member_count"`
}

type JoinResult struct {
	Channel        ChannelSummary   `json:"channel"`
	RecentMessages []MessagePayload `json:"recent_messages"`
	MembersOnline  []models.Profile `json:"members_online"`
}

type PresencePayload struct {
	ChannelID string         `json:"channel_id"`
	User      models.Profile `json:"user"`
}

type ChannelLeft struct {
	ChannelID string `json:"channel_id"`
	Reason    string `json:"reason,omitempty"`
}
