package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/observability"
	"github.com/chatline/internal/repository"
	"github.com/google/uuid"
)

// MessageStore is the slice of the message repository the hub needs.
type MessageStore interface {
	Append(ctx context.Context, m *model.Message) error
	FindByID(ctx context.Context, id string) (*model.Message, error)
	MarkChatRead(ctx context.Context, chatID string, isGroup bool, readerID string) error
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) ([]model.Reaction, error)
}

type GroupStore interface {
	FindByID(ctx context.Context, id string) (*model.Group, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// PushNotifier delivers an out-of-band notification to a user with no
// active connection. Implementations must not block the caller.
type PushNotifier interface {
	Notify(ctx context.Context, userID string, m *model.Message)
}

// AuditSink records chat lifecycle events for external consumers.
type AuditSink interface {
	Publish(routingKey string, payload any)
}

type handlerFunc func(ctx context.Context, c Conn, msg IncomingMessage)

// Hub routes WebSocket events between connected users. One hub per process;
// all per-connection handlers run on the connection's read goroutine, so a
// single sender's events are processed in arrival order.
type Hub struct {
	registry *Registry
	messages MessageStore
	groups   GroupStore
	users    UserStore
	push     PushNotifier
	audit    AuditSink
	maxConns int

	// handlers is built once in NewHub and read-only afterwards.
	handlers map[EventType]handlerFunc
}

var ErrTooManyConnections = errors.New("connection limit reached")

func NewHub(registry *Registry, messages MessageStore, groups GroupStore, users UserStore, push PushNotifier, audit AuditSink, maxConns int) *Hub {
	h := &Hub{
		registry: registry,
		messages: messages,
		groups:   groups,
		users:    users,
		push:     push,
		audit:    audit,
		maxConns: maxConns,
	}
	h.handlers = map[EventType]handlerFunc{
		EventPrivateMessage: h.handlePrivateMessage,
		EventGroupMessage:   h.handleGroupMessage,
		EventMarkRead:       h.handleMarkRead,
		EventAddReaction:    h.handleAddReaction,
		EventCallUser:       h.handleCallUser,
		EventAnswerCall:     h.handleAnswerCall,
		EventEndCall:        h.handleEndCall,
	}
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

// Register makes c the active connection for its user. A previous connection
// for the same user is displaced and closed: presence is per-user, not
// per-socket.
func (h *Hub) Register(c Conn) error {
	if h.maxConns > 0 && h.registry.Count() >= h.maxConns {
		if _, online := h.registry.Lookup(c.UserID()); !online {
			return ErrTooManyConnections
		}
	}
	displaced := h.registry.SetOnline(c)
	if displaced != nil {
		displaced.Close()
	}
	observability.WSConnections.Set(float64(h.registry.Count()))
	h.broadcastUserList()
	if h.audit != nil {
		h.audit.Publish("presence.online", map[string]any{"user_id": c.UserID(), "at": time.Now().UTC()})
	}
	logger.Infof("ws connected user=%s online=%d", c.UserID(), h.registry.Count())
	return nil
}

// Unregister removes c from the registry. A no-op when the user has already
// been displaced by a newer connection.
func (h *Hub) Unregister(c Conn) {
	if !h.registry.SetOffline(c) {
		return
	}
	observability.WSConnections.Set(float64(h.registry.Count()))
	h.broadcastUserList()
	if h.audit != nil {
		h.audit.Publish("presence.offline", map[string]any{"user_id": c.UserID(), "at": time.Now().UTC()})
	}
	logger.Infof("ws disconnected user=%s online=%d", c.UserID(), h.registry.Count())
}

// HandleMessage dispatches one incoming event. Unknown event types are
// answered with an error event rather than dropped, so misbehaving clients
// can see what went wrong.
func (h *Hub) HandleMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	observability.WSEvents.WithLabelValues(string(msg.Type)).Inc()
	handler, ok := h.handlers[msg.Type]
	if !ok {
		h.sendError(c, fmt.Sprintf("unknown event type %q", msg.Type))
		return
	}
	handler(ctx, c, msg)
}

func (h *Hub) handlePrivateMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.To == "" || msg.Body == "" {
		h.sendError(c, "private_message requires to and body")
		return
	}

	m := &model.Message{
		ID:        uuid.NewString(),
		SenderID:  c.UserID(),
		TargetID:  msg.To,
		Body:      msg.Body,
		CreatedAt: time.Now().UTC(),
	}

	// Delivery is decided at send time: the recipient is either online now
	// or gets the message from history later.
	recipient, online := h.registry.Lookup(msg.To)
	if online {
		m.DeliveredTo = []string{msg.To}
	}

	if err := h.messages.Append(ctx, m); err != nil {
		logger.Errorf("hub: append private message: %v", err)
		h.sendError(c, "message could not be saved")
		return
	}
	h.attachSender(ctx, m)

	if online {
		recipient.Enqueue(OutgoingMessage{Type: EventReceivePrivateMessage, Payload: m})
	} else if h.push != nil {
		h.push.Notify(ctx, msg.To, m)
	}

	c.Enqueue(OutgoingMessage{Type: EventMessageSentAck, Payload: SentAckPayload{MessageID: m.ID, Delivered: online}})
	if h.audit != nil {
		h.audit.Publish("message.private", map[string]any{"message_id": m.ID, "from": m.SenderID, "to": m.TargetID})
	}
}

func (h *Hub) handleGroupMessage(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.GroupID == "" || msg.Body == "" {
		h.sendError(c, "group_message requires group_id and body")
		return
	}

	group, err := h.groups.FindByID(ctx, msg.GroupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.sendError(c, "group not found")
			return
		}
		logger.Errorf("hub: load group %s: %v", msg.GroupID, err)
		h.sendError(c, "message could not be saved")
		return
	}
	if !group.HasMember(c.UserID()) {
		h.sendError(c, "not a member of this group")
		return
	}

	// Snapshot of members online right now; they form the delivered overlay
	// and receive the fan-out. Offline members catch up via history.
	online, conns := h.registry.Snapshot(group.Members, c.UserID())

	m := &model.Message{
		ID:          uuid.NewString(),
		SenderID:    c.UserID(),
		TargetID:    group.ID,
		Body:        msg.Body,
		IsGroup:     true,
		CreatedAt:   time.Now().UTC(),
		DeliveredTo: online,
	}
	if err := h.messages.Append(ctx, m); err != nil {
		logger.Errorf("hub: append group message: %v", err)
		h.sendError(c, "message could not be saved")
		return
	}
	h.attachSender(ctx, m)

	out := OutgoingMessage{Type: EventReceiveGroupMessage, Payload: m}
	for _, conn := range conns {
		conn.Enqueue(out)
	}
	if h.push != nil {
		onlineSet := make(map[string]struct{}, len(online))
		for _, id := range online {
			onlineSet[id] = struct{}{}
		}
		for _, member := range group.Members {
			if member == c.UserID() {
				continue
			}
			if _, ok := onlineSet[member]; ok {
				continue
			}
			h.push.Notify(ctx, member, m)
		}
	}

	c.Enqueue(OutgoingMessage{Type: EventMessageSentAck, Payload: SentAckPayload{MessageID: m.ID, Delivered: len(online) > 0}})
	if h.audit != nil {
		h.audit.Publish("message.group", map[string]any{"message_id": m.ID, "from": m.SenderID, "group_id": group.ID})
	}
}

func (h *Hub) handleMarkRead(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.ChatID == "" {
		h.sendError(c, "mark_read requires chat_id")
		return
	}

	if msg.IsGroup {
		group, err := h.groups.FindByID(ctx, msg.ChatID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				h.sendError(c, "group not found")
				return
			}
			logger.Errorf("hub: load group %s for read update: %v", msg.ChatID, err)
			h.sendError(c, "read receipt could not be saved")
			return
		}
		if !group.HasMember(c.UserID()) {
			h.sendError(c, "not a member of this group")
			return
		}
		if err := h.messages.MarkChatRead(ctx, group.ID, true, c.UserID()); err != nil {
			logger.Errorf("hub: mark group %s read by %s: %v", group.ID, c.UserID(), err)
			h.sendError(c, "read receipt could not be saved")
			return
		}
		payload := ReadUpdatePayload{ChatID: group.ID, ReaderID: c.UserID()}
		_, conns := h.registry.Snapshot(group.Members, c.UserID())
		for _, conn := range conns {
			conn.Enqueue(OutgoingMessage{Type: EventGroupReadUpdate, Payload: payload})
		}
		return
	}

	if err := h.messages.MarkChatRead(ctx, msg.ChatID, false, c.UserID()); err != nil {
		logger.Errorf("hub: mark chat %s read by %s: %v", msg.ChatID, c.UserID(), err)
		h.sendError(c, "read receipt could not be saved")
		return
	}

	// Private chats are keyed by the counterpart on each side: the peer
	// stores this conversation under the reader's id.
	h.registry.Send(msg.ChatID, OutgoingMessage{
		Type:    EventPrivateReadUpdate,
		Payload: ReadUpdatePayload{ChatID: c.UserID(), ReaderID: c.UserID()},
	})
}

func (h *Hub) handleAddReaction(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.MessageID == "" || msg.Emoji == "" {
		h.sendError(c, "add_reaction requires message_id and emoji")
		return
	}

	reactions, err := h.messages.ToggleReaction(ctx, msg.MessageID, c.UserID(), msg.Emoji)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Reacting to a deleted message is not an error worth reporting.
			return
		}
		logger.Errorf("hub: toggle reaction on %s: %v", msg.MessageID, err)
		h.sendError(c, "reaction could not be saved")
		return
	}

	m, err := h.messages.FindByID(ctx, msg.MessageID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("hub: load message %s after reaction: %v", msg.MessageID, err)
			h.sendError(c, "reaction could not be saved")
		}
		return
	}

	// Everyone in the conversation gets the full reaction set; receivers
	// replace their local state rather than applying a delta.
	out := OutgoingMessage{
		Type:    EventReactionUpdated,
		Payload: ReactionUpdatedPayload{MessageID: m.ID, Reactions: reactions},
	}
	for _, conn := range h.conversationConns(ctx, m) {
		conn.Enqueue(out)
	}
}

// conversationConns lists the active connections of everyone party to m,
// the reacting/sending user included.
func (h *Hub) conversationConns(ctx context.Context, m *model.Message) []Conn {
	if m.IsGroup {
		group, err := h.groups.FindByID(ctx, m.TargetID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logger.Errorf("hub: load group %s: %v", m.TargetID, err)
			}
			return nil
		}
		_, conns := h.registry.Snapshot(group.Members, "")
		return conns
	}
	_, conns := h.registry.Snapshot([]string{m.SenderID, m.TargetID}, "")
	return conns
}

// NotifyMessageDeleted fans out a message_deleted event to everyone party
// to m. Called by the HTTP handler after a delete-for-everyone.
func (h *Hub) NotifyMessageDeleted(ctx context.Context, m *model.Message) {
	out := OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{MessageID: m.ID}}
	for _, conn := range h.conversationConns(ctx, m) {
		conn.Enqueue(out)
	}
}

// NotifyGroupDeleted tells online members that the group and its history
// are gone.
func (h *Hub) NotifyGroupDeleted(groupID string, memberIDs []string) {
	out := OutgoingMessage{Type: EventGroupDeleted, Payload: GroupDeletedPayload{GroupID: groupID}}
	_, conns := h.registry.Snapshot(memberIDs, "")
	for _, conn := range conns {
		conn.Enqueue(out)
	}
}

// NotifyUser pushes a single event to one user if connected. Used for
// follow-request and contact lifecycle events raised over HTTP.
func (h *Hub) NotifyUser(userID string, eventType EventType, payload any) bool {
	return h.registry.Send(userID, OutgoingMessage{Type: eventType, Payload: payload})
}

// Shutdown closes every active connection. Pumps unregister themselves.
func (h *Hub) Shutdown() {
	for _, id := range h.registry.ListOnline() {
		if c, ok := h.registry.Lookup(id); ok {
			c.Close()
		}
	}
}

func (h *Hub) broadcastUserList() {
	h.registry.Broadcast(OutgoingMessage{
		Type:    EventUserList,
		Payload: UserListPayload{Users: h.registry.ListOnline()},
	})
}

func (h *Hub) attachSender(ctx context.Context, m *model.Message) {
	u, err := h.users.GetByID(ctx, m.SenderID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("hub: load sender %s: %v", m.SenderID, err)
		}
		return
	}
	pub := u.ToPublic()
	m.Sender = &pub
}

func (h *Hub) sendError(c Conn, reason string) {
	c.Enqueue(OutgoingMessage{Type: EventError, Payload: map[string]string{"reason": reason}})
}
