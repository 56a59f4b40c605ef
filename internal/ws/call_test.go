package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallUserRelaysOffer(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	offer := json.RawMessage(`{"sdp":"offer"}`)
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventCallUser, To: "bob", Signal: offer, Name: "Alice",
	})

	incoming := bob.received(EventIncomingCall)
	require.Len(t, incoming, 1)
	payload := incoming[0].Payload.(IncomingCallPayload)
	assert.Equal(t, "alice", payload.From)
	assert.Equal(t, "Alice", payload.Name)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(payload.Signal))
	assert.Empty(t, alice.received(EventCallFailed))
}

func TestCallUserOfflineCalleeFailsForCallerOnly(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventCallUser, To: "bob", Signal: json.RawMessage(`{}`),
	})

	failed := alice.received(EventCallFailed)
	require.Len(t, failed, 1)
	assert.NotEmpty(t, failed[0].Payload.(CallFailedPayload).Reason)
}

func TestAnswerCallRelaysToCaller(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	answer := json.RawMessage(`{"sdp":"answer"}`)
	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventAnswerCall, To: "alice", Signal: answer,
	})

	accepted := alice.received(EventCallAccepted)
	require.Len(t, accepted, 1)
	payload := accepted[0].Payload.(CallAcceptedPayload)
	assert.Equal(t, "bob", payload.From)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(payload.Signal))
}

func TestAnswerCallToGoneCallerIsSilent(t *testing.T) {
	f := newHubFixture(t)
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), bob, IncomingMessage{
		Type: EventAnswerCall, To: "alice", Signal: json.RawMessage(`{}`),
	})

	assert.Empty(t, bob.received(EventError))
	assert.Empty(t, bob.received(EventCallFailed))
}

func TestEndCallRelays(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, "alice")
	bob := f.connect(t, "bob")

	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventEndCall, To: "bob",
	})

	assert.Len(t, bob.received(EventCallEnded), 1)
	// Ending an already-dead call raises nothing on either side.
	f.hub.Unregister(bob)
	bob.Close()
	f.hub.HandleMessage(context.Background(), alice, IncomingMessage{
		Type: EventEndCall, To: "bob",
	})
	assert.Empty(t, alice.received(EventError))
}
