package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOnlineDisplacesOldHandle(t *testing.T) {
	r := NewRegistry()
	first := &fakeConn{id: "alice"}
	second := &fakeConn{id: "alice"}

	assert.Nil(t, r.SetOnline(first))
	displaced := r.SetOnline(second)
	assert.Same(t, first, displaced)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())
}

func TestSetOnlineSameHandleIsNoop(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "alice"}
	r.SetOnline(c)
	assert.Nil(t, r.SetOnline(c))
	assert.Equal(t, 1, r.Count())
}

func TestSetOfflineIgnoresStaleHandle(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{id: "alice"}
	fresh := &fakeConn{id: "alice"}
	r.SetOnline(old)
	r.SetOnline(fresh)

	assert.False(t, r.SetOffline(old), "stale handle must not evict the fresh one")
	_, ok := r.Lookup("alice")
	assert.True(t, ok)

	assert.True(t, r.SetOffline(fresh))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestListOnlineIsSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		r.SetOnline(&fakeConn{id: id})
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, r.ListOnline())
}

func TestBroadcastReachesEveryConnection(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "alice"}
	b := &fakeConn{id: "bob"}
	r.SetOnline(a)
	r.SetOnline(b)

	r.Broadcast(OutgoingMessage{Type: EventUserList})

	assert.Len(t, a.received(EventUserList), 1)
	assert.Len(t, b.received(EventUserList), 1)
}

func TestSendReportsPresence(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "alice"}
	r.SetOnline(a)

	assert.True(t, r.Send("alice", OutgoingMessage{Type: EventCallEnded}))
	assert.False(t, r.Send("bob", OutgoingMessage{Type: EventCallEnded}))
	assert.Len(t, a.received(EventCallEnded), 1)
}

func TestSnapshotFiltersOfflineAndExcluded(t *testing.T) {
	r := NewRegistry()
	r.SetOnline(&fakeConn{id: "alice"})
	r.SetOnline(&fakeConn{id: "bob"})

	online, conns := r.Snapshot([]string{"alice", "bob", "carol"}, "alice")
	assert.Equal(t, []string{"bob"}, online)
	require.Len(t, conns, 1)
	assert.Equal(t, "bob", conns[0].UserID())
}
