package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrMessageTarget = errors.New("message must target exactly one of channel or conversation")

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageJoin   MessageType = "join"
	MessageLeave  MessageType = "leave"
)

func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(s) {
	case MessageText, MessageSystem, MessageJoin, MessageLeave:
		return MessageType(s), nil
	case "":
		return MessageText, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

type TargetType string

const (
	TargetChannel TargetType = "channel"
	TargetDirect  TargetType = "direct"
)

func ParseTargetType(s string) (TargetType, error) {
	switch TargetType(s) {
	case TargetChannel, TargetDirect:
		return TargetType(s), nil
	}
	return "", fmt.Errorf("unknown target type %q", s)
}

type Message struct {
	ID             string
	SenderID       string
	Content        *string
	ChannelID      *string
	ConversationID *string
	Type           MessageType
	Seq            int64
	CreatedAt      time.Time
	EditedAt       *time.Time
	IsDeleted      bool
	DeletedBy      *string
}

func (m Message) Validate() error {
	hasChannel := m.ChannelID != nil && *m.ChannelID != ""
	hasConversation := m.ConversationID != nil && *m.ConversationID != ""
	if hasChannel == hasConversation {
		return ErrMessageTarget
	}
	return nil
}

// Target returns the kind and id of the channel or conversation the message belongs to.
func (m Message) Target() (TargetType, string) {
	if m.ChannelID != nil {
		return TargetChannel, *m.ChannelID
	}
	if m.ConversationID != nil {
		return TargetDirect, *m.ConversationID
	}
	return "", ""
}

// Redacted is the read projection: deleted messages keep their row but lose their content.
func (m Message) Redacted() Message {
	if m.IsDeleted {
		m.Content = nil
	}
	return m
}

func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}
