package model

import "time"

// DeliveryStatus is the sender-facing indicator for a message. It is derived
// at display time from the delivered/read sets and never stored.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Message is one chat message. ID, SenderID, TargetID, Body, IsGroup and
// CreatedAt are immutable after creation; DeliveredTo, ReadBy, Reactions and
// DeletedFor are the mutable overlay. DeliveredTo and ReadBy only ever grow.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	TargetID    string      `json:"target_id"` // user id for private, group id for group
	Body        string      `json:"body"`
	IsGroup     bool        `json:"is_group"`
	CreatedAt   time.Time   `json:"created_at"`
	DeliveredTo []string    `json:"delivered_to"`
	ReadBy      []string    `json:"read_by"`
	Reactions   []Reaction  `json:"reactions,omitempty"`
	DeletedFor  []string    `json:"-"`
	Sender      *UserPublic `json:"sender,omitempty"`
}

// Reaction is a single per-user emoji on a message. A user has at most one.
type Reaction struct {
	UserID string `json:"user_id"`
	Emoji  string `json:"emoji"`
}

// Status derives the sender-facing indicator. groupSize is the total member
// count of the target group and is ignored for private messages.
//
// Private: any delivery entry means delivered, any read entry means read.
// Group: the message counts as delivered/read only once every member other
// than the sender is in the respective set; partial progress collapses to
// "sent". A group where the sender is the only member never reaches read.
func (m *Message) Status(groupSize int) DeliveryStatus {
	if !m.IsGroup {
		if len(m.ReadBy) > 0 {
			return StatusRead
		}
		if len(m.DeliveredTo) > 0 {
			return StatusDelivered
		}
		return StatusSent
	}
	totalOthers := groupSize - 1
	if totalOthers > 0 && len(m.ReadBy) >= totalOthers {
		return StatusRead
	}
	if len(m.DeliveredTo) >= totalOthers {
		return StatusDelivered
	}
	return StatusSent
}

// ReactionBy returns the user's current reaction emoji, if any.
func (m *Message) ReactionBy(userID string) (string, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r.Emoji, true
		}
	}
	return "", false
}

// DeletedForUser reports whether the message is soft-deleted for userID.
func (m *Message) DeletedForUser(userID string) bool {
	for _, u := range m.DeletedFor {
		if u == userID {
			return true
		}
	}
	return false
}
