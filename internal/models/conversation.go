package models

import "time"

type Conversation struct {
	ID            string
	Participant1  string
	Participant2  string
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

// CanonicalPair orders two user ids so that a pair has a single stored form.
func CanonicalPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.Participant1 == userID || c.Participant2 == userID)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.Participant1 == userID {
		return c.Participant2
	}
	return c.Participant1
}
