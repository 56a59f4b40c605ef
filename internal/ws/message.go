package ws

import (
	"encoding/json"

	"github.com/chatline/internal/model"
)

type EventType string

const (
	// client -> server
	EventPrivateMessage EventType = "private_message"
	EventGroupMessage   EventType = "group_message"
	EventMarkRead       EventType = "mark_read"
	EventAddReaction    EventType = "add_reaction"
	EventCallUser       EventType = "call_user"
	EventAnswerCall     EventType = "answer_call"
	EventEndCall        EventType = "end_call"

	// server -> client
	EventReceivePrivateMessage EventType = "receive_private_message"
	EventReceiveGroupMessage   EventType = "receive_group_message"
	EventMessageSentAck        EventType = "message_sent_ack"
	EventPrivateReadUpdate     EventType = "private_read_update"
	EventGroupReadUpdate       EventType = "group_read_update"
	EventReactionUpdated       EventType = "reaction_updated"
	EventMessageDeleted        EventType = "message_deleted"
	EventIncomingCall          EventType = "incoming_call"
	EventCallAccepted          EventType = "call_accepted"
	EventCallEnded             EventType = "call_ended"
	EventCallFailed            EventType = "call_failed"
	EventUserList              EventType = "user_list"
	EventGroupDeleted          EventType = "group_deleted"
	EventNewFollowRequest      EventType = "new_follow_request"
	EventFollowAccepted        EventType = "follow_request_accepted"
	EventFriendRemoved         EventType = "friend_removed"
	EventError                 EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// For private messages and call signaling: the target user id.
	To string `json:"to,omitempty"`

	// For group messages.
	GroupID string `json:"group_id,omitempty"`

	Body string `json:"body,omitempty"`

	// For mark_read: peer user id (private) or group id.
	ChatID  string `json:"chat_id,omitempty"`
	IsGroup bool   `json:"is_group,omitempty"`

	// For reactions.
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// For call signaling: opaque WebRTC payload, relayed untouched.
	Signal json.RawMessage `json:"signal,omitempty"`
	Name   string          `json:"name,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SentAckPayload confirms a send to its author. Delivered reports whether at
// least one recipient was online at send time.
type SentAckPayload struct {
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
}

// ReadUpdatePayload notifies a sender that a reader opened the chat.
type ReadUpdatePayload struct {
	ChatID   string `json:"chat_id"`
	ReaderID string `json:"reader_id"`
}

// ReactionUpdatedPayload carries the full recomputed reaction set, not a
// delta, so late-joining viewers always see consistent state.
type ReactionUpdatedPayload struct {
	MessageID string           `json:"message_id"`
	Reactions []model.Reaction `json:"reactions"`
}

// MessageDeletedPayload is the retraction broadcast after a hard delete.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
}

// UserListPayload is the online-user set broadcast on every login/disconnect.
type UserListPayload struct {
	Users []string `json:"users"`
}

// IncomingCallPayload delivers a call offer to the callee.
type IncomingCallPayload struct {
	From   string          `json:"from"`
	Name   string          `json:"name,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// CallAcceptedPayload delivers the answer back to the caller.
type CallAcceptedPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// CallFailedPayload tells the caller why the call did not go through.
type CallFailedPayload struct {
	Reason string `json:"reason"`
}

// GroupDeletedPayload tells members to close a deleted group.
type GroupDeletedPayload struct {
	GroupID string `json:"group_id"`
}

// FollowEventPayload identifies the counterpart of a contact-graph event.
type FollowEventPayload struct {
	From string `json:"from"`
}
