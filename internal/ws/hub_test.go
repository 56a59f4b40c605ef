package ws

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	msgs   []OutgoingMessage
	closed bool
}

func (f *fakeConn) UserID() string { return f.id }

func (f *fakeConn) Enqueue(msg OutgoingMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) received(t EventType) []OutgoingMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutgoingMessage
	for _, m := range f.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) lastOf(t EventType) (OutgoingMessage, bool) {
	msgs := f.received(t)
	if len(msgs) == 0 {
		return OutgoingMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

type fakeMessageStore struct {
	mu   sync.Mutex
	byID map[string]*model.Message

	markReadErr error
	toggleErr   error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byID: make(map[string]*model.Message)}
}

func (s *fakeMessageStore) Append(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *fakeMessageStore) FindByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) MarkChatRead(_ context.Context, chatID string, isGroup bool, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markReadErr != nil {
		return s.markReadErr
	}
	for _, m := range s.byID {
		if isGroup {
			if !m.IsGroup || m.TargetID != chatID || m.SenderID == readerID {
				continue
			}
		} else {
			if m.IsGroup || m.SenderID != chatID || m.TargetID != readerID {
				continue
			}
		}
		if contains(m.ReadBy, readerID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, readerID)
		if !contains(m.DeliveredTo, readerID) {
			m.DeliveredTo = append(m.DeliveredTo, readerID)
		}
	}
	return nil
}

func (s *fakeMessageStore) ToggleReaction(_ context.Context, messageID, userID, emoji string) ([]model.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toggleErr != nil {
		return nil, s.toggleErr
	}
	m, ok := s.byID[messageID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	kept := m.Reactions[:0]
	removed := false
	for _, r := range m.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
			continue
		}
		if r.Emoji == emoji {
			removed = true
		}
	}
	m.Reactions = kept
	if !removed {
		m.Reactions = append(m.Reactions, model.Reaction{UserID: userID, Emoji: emoji})
	}
	out := make([]model.Reaction, len(m.Reactions))
	copy(out, m.Reactions)
	return out, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

type fakeGroupStore struct {
	groups map[string]*model.Group
}

func (s *fakeGroupStore) FindByID(_ context.Context, id string) (*model.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

type fakeUserStore struct{}

func (fakeUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Name: "user " + id}, nil
}

type fakePush struct {
	mu       sync.Mutex
	notified []string
}

func (p *fakePush) Notify(_ context.Context, userID string, _ *model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified = append(p.notified, userID)
}

func (p *fakePush) users() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notified...)
}

type hubFixture struct {
	hub      *Hub
	messages *fakeMessageStore
	groups   *fakeGroupStore
	push     *fakePush
}

func newHubFixture(t *testing.T, groups ...*model.Group) *hubFixture {
	t.Helper()
	gs := &fakeGroupStore{groups: make(map[string]*model.Group)}
	for _, g := range groups {
		gs.groups[g.ID] = g
	}
	ms := newFakeMessageStore()
	p := &fakePush{}
	return &hubFixture{
		hub:      NewHub(NewRegistry(), ms, gs, fakeUserStore{}, p, nil, 0),
		messages: ms,
		groups:   gs,
		push:     p,
	}
}

func (f *hubFixture) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: userID}
	require.NoError(t, f.hub.Register(c))
	return c
}

func TestRegisterDisplacesPreviousConnection(t *testing.T) {
	f := newHubFixture(t)
	first := f.connect(t, "alice")
	second := f.connect(t, "alice")

	assert.True(t, first.closed, "old connection must be closed on re-login")
	got, ok := f.hub.Registry().Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, f.hub.Registry().Count())
}

func TestRegisterBroadcastsUserList(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	f.connect(t, "bob")

	last, ok := alice.lastOf(EventUserList)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"alice", "bob"}, last.Payload.(UserListPayload).Users)
}

func TestUnregisterStaleConnectionKeepsUserOnline(t *testing.T) {
	f := newHubFixture(t)
	old := f.connect(t, "alice")
	f.connect(t, "alice")

	// The displaced connection's read pump unregisters on exit; that must
	// not take the newer connection offline.
	f.hub.Unregister(old)
	_, ok := f.hub.Registry().Lookup("alice")
	assert.True(t, ok)
}

func TestPrivateMessageToOnlineRecipient(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})

	recv := bob.received(EventReceivePrivateMessage)
	require.Len(t, recv, 1)
	m := recv[0].Payload.(*model.Message)
	assert.Equal(t, "alice", m.SenderID)
	assert.Equal(t, "hi", m.Body)
	assert.Equal(t, []string{"bob"}, m.DeliveredTo)

	ack, ok := alice.lastOf(EventMessageSentAck)
	require.True(t, ok)
	assert.True(t, ack.Payload.(SentAckPayload).Delivered)

	stored, err := f.messages.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, stored.Status(2))
	assert.Empty(t, f.push.users())
}

func TestPrivateMessageToOfflineRecipient(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})

	ack, ok := alice.lastOf(EventMessageSentAck)
	require.True(t, ok)
	payload := ack.Payload.(SentAckPayload)
	assert.False(t, payload.Delivered)

	stored, err := f.messages.FindByID(context.Background(), payload.MessageID)
	require.NoError(t, err)
	assert.Empty(t, stored.DeliveredTo)
	assert.Equal(t, model.StatusSent, stored.Status(2))
	assert.Equal(t, []string{"bob"}, f.push.users())
}

func TestGroupMessageDeliveredToOnlineSnapshot(t *testing.T) {
	g := &model.Group{ID: "g1", Name: "team", AdminID: "alice",
		Members: []string{"alice", "bob", "carol", "dave"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	carol := f.connect(t, "carol")
	// dave stays offline

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "standup?",
	})

	require.Len(t, bob.received(EventReceiveGroupMessage), 1)
	require.Len(t, carol.received(EventReceiveGroupMessage), 1)
	assert.Empty(t, alice.received(EventReceiveGroupMessage))

	ack, ok := alice.lastOf(EventMessageSentAck)
	require.True(t, ok)
	payload := ack.Payload.(SentAckPayload)
	assert.True(t, payload.Delivered)

	stored, err := f.messages.FindByID(context.Background(), payload.MessageID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, stored.DeliveredTo)
	// Two of three recipients have it: not yet "delivered" for the sender.
	assert.Equal(t, model.StatusSent, stored.Status(len(g.Members)))
	assert.Equal(t, []string{"dave"}, f.push.users())
}

func TestGroupMessageToUnknownGroup(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "nope", Body: "hello?",
	})

	require.Len(t, alice.received(EventError), 1)
	assert.Empty(t, alice.received(EventMessageSentAck))
	assert.Empty(t, f.messages.byID)
}

func TestGroupMessageFromNonMember(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "bob", Members: []string{"bob", "carol"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "let me in",
	})

	require.Len(t, alice.received(EventError), 1)
	assert.Empty(t, f.messages.byID)
}

func TestMarkReadPrivateNotifiesSender(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})
	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventMarkRead, ChatID: "alice",
	})

	upd, ok := alice.lastOf(EventPrivateReadUpdate)
	require.True(t, ok)
	assert.Equal(t, "bob", upd.Payload.(ReadUpdatePayload).ReaderID)

	ack, _ := alice.lastOf(EventMessageSentAck)
	stored, err := f.messages.FindByID(context.Background(), ack.Payload.(SentAckPayload).MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, stored.Status(2))
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})
	for i := 0; i < 3; i++ {
		f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
			Type: EventMarkRead, ChatID: "alice",
		})
	}

	ack, _ := alice.lastOf(EventMessageSentAck)
	stored, err := f.messages.FindByID(context.Background(), ack.Payload.(SentAckPayload).MessageID)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, stored.ReadBy)
	assert.Equal(t, []string{"bob"}, stored.DeliveredTo)
}

func TestMarkReadGroupReachesReadOnlyWhenAllOthersRead(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "alice", Members: []string{"alice", "bob", "carol"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "hello",
	})
	ack, _ := alice.lastOf(EventMessageSentAck)
	msgID := ack.Payload.(SentAckPayload).MessageID

	bob := f.connect(t, "bob")
	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventMarkRead, ChatID: "g1", IsGroup: true,
	})

	stored, err := f.messages.FindByID(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status(3), "one reader of two is not read")

	upd, ok := alice.lastOf(EventGroupReadUpdate)
	require.True(t, ok)
	assert.Equal(t, "bob", upd.Payload.(ReadUpdatePayload).ReaderID)

	carol := f.connect(t, "carol")
	f.hub.HandleMessage(context.Background(), carol, IncomingMessage{
		Type: EventMarkRead, ChatID: "g1", IsGroup: true,
	})

	stored, err = f.messages.FindByID(context.Background(), msgID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRead, stored.Status(3))
}

func TestMarkReadGroupSkipsOwnMessages(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "alice", Members: []string{"alice", "bob"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "hello",
	})
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventMarkRead, ChatID: "g1", IsGroup: true,
	})

	ack, _ := alice.lastOf(EventMessageSentAck)
	stored, err := f.messages.FindByID(context.Background(), ack.Payload.(SentAckPayload).MessageID)
	require.NoError(t, err)
	assert.Empty(t, stored.ReadBy, "reading your own message must not count")
}

func TestMarkReadGroupFromNonMember(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "bob", Members: []string{"bob", "carol"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "hello",
	})
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventMarkRead, ChatID: "g1", IsGroup: true,
	})

	require.Len(t, alice.received(EventError), 1)
	assert.Empty(t, bob.received(EventGroupReadUpdate))
	ack, _ := bob.lastOf(EventMessageSentAck)
	stored, err := f.messages.FindByID(context.Background(), ack.Payload.(SentAckPayload).MessageID)
	require.NoError(t, err)
	assert.Empty(t, stored.ReadBy, "a non-member must not enter the read set")
}

func TestMarkReadStoreFailureReportsError(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "alice", Members: []string{"alice", "bob"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	f.messages.markReadErr = errors.New("db down")

	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventMarkRead, ChatID: "alice",
	})
	require.Len(t, bob.received(EventError), 1)
	assert.Empty(t, alice.received(EventPrivateReadUpdate))

	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventMarkRead, ChatID: "g1", IsGroup: true,
	})
	require.Len(t, bob.received(EventError), 2)
	assert.Empty(t, alice.received(EventGroupReadUpdate))
}

func TestReactionAddToggleReplace(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})
	ack, _ := alice.lastOf(EventMessageSentAck)
	msgID := ack.Payload.(SentAckPayload).MessageID

	react := func(c *fakeConn, emoji string) ReactionUpdatedPayload {
		f.hub.HandleMessage(context.Background(), c, IncomingMessage{
			Type: EventAddReaction, MessageID: msgID, Emoji: emoji,
		})
		upd, ok := bob.lastOf(EventReactionUpdated)
		require.True(t, ok)
		return upd.Payload.(ReactionUpdatedPayload)
	}

	got := react(bob, "👍")
	assert.Equal(t, []model.Reaction{{UserID: "bob", Emoji: "👍"}}, got.Reactions)

	// Same emoji again removes it.
	got = react(bob, "👍")
	assert.Empty(t, got.Reactions)

	// Different emoji replaces, never two per user.
	react(bob, "👍")
	got = react(bob, "🎉")
	assert.Equal(t, []model.Reaction{{UserID: "bob", Emoji: "🎉"}}, got.Reactions)

	// Both parties see the full set.
	upd, ok := alice.lastOf(EventReactionUpdated)
	require.True(t, ok)
	assert.Equal(t, got.Reactions, upd.Payload.(ReactionUpdatedPayload).Reactions)
}

func TestReactionOnMissingMessageIsSilent(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventAddReaction, MessageID: "gone", Emoji: "👍",
	})

	assert.Empty(t, alice.received(EventError))
	assert.Empty(t, alice.received(EventReactionUpdated))
}

func TestReactionStoreFailureReportsError(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "hi",
	})
	ack, _ := alice.lastOf(EventMessageSentAck)
	f.messages.toggleErr = errors.New("db down")

	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventAddReaction, MessageID: ack.Payload.(SentAckPayload).MessageID, Emoji: "👍",
	})

	require.Len(t, bob.received(EventError), 1)
	assert.Empty(t, bob.received(EventReactionUpdated))
	assert.Empty(t, alice.received(EventReactionUpdated))
}

func TestMessageDeletedReachesPrivateParties(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventPrivateMessage, To: "bob", Body: "oops",
	})
	ack, _ := alice.lastOf(EventMessageSentAck)
	msgID := ack.Payload.(SentAckPayload).MessageID
	stored, err := f.messages.FindByID(context.Background(), msgID)
	require.NoError(t, err)

	f.hub.NotifyMessageDeleted(context.Background(), stored)

	for _, c := range []*fakeConn{alice, bob} {
		del, ok := c.lastOf(EventMessageDeleted)
		require.True(t, ok, "user %s must see the retraction", c.id)
		assert.Equal(t, msgID, del.Payload.(MessageDeletedPayload).MessageID)
	}
}

func TestMessageDeletedReachesOnlineGroupMembers(t *testing.T) {
	g := &model.Group{ID: "g1", AdminID: "alice",
		Members: []string{"alice", "bob", "carol"}}
	f := newHubFixture(t, g)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")
	// carol stays offline

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventGroupMessage, GroupID: "g1", Body: "oops",
	})
	ack, _ := alice.lastOf(EventMessageSentAck)
	msgID := ack.Payload.(SentAckPayload).MessageID
	stored, err := f.messages.FindByID(context.Background(), msgID)
	require.NoError(t, err)

	f.hub.NotifyMessageDeleted(context.Background(), stored)

	for _, c := range []*fakeConn{alice, bob} {
		del, ok := c.lastOf(EventMessageDeleted)
		require.True(t, ok, "member %s must see the retraction", c.id)
		assert.Equal(t, msgID, del.Payload.(MessageDeletedPayload).MessageID)
	}
}

func TestGroupDeletedReachesOnlineMembers(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.NotifyGroupDeleted("g1", []string{"alice", "bob", "carol"})

	for _, c := range []*fakeConn{alice, bob} {
		del, ok := c.lastOf(EventGroupDeleted)
		require.True(t, ok)
		assert.Equal(t, "g1", del.Payload.(GroupDeletedPayload).GroupID)
	}
}

func TestUnknownEventTypeGetsError(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{Type: "dance"})

	require.Len(t, alice.received(EventError), 1)
}

func TestConnectionLimit(t *testing.T) {
	gs := &fakeGroupStore{groups: map[string]*model.Group{}}
	hub := NewHub(NewRegistry(), newFakeMessageStore(), gs, fakeUserStore{}, nil, nil, 2)

	require.NoError(t, hub.Register(&fakeConn{id: "a"}))
	require.NoError(t, hub.Register(&fakeConn{id: "b"}))
	err := hub.Register(&fakeConn{id: "c"})
	assert.ErrorIs(t, err, ErrTooManyConnections)

	// Reconnects of an already-online user are not new capacity.
	assert.NoError(t, hub.Register(&fakeConn{id: "a"}))
}
