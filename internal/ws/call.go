package ws

import "context"

// Call signaling is a pure relay: the hub forwards WebRTC offers, answers
// and hang-ups between the two parties without parsing or storing the
// signaling payload. No call state survives either side disconnecting.

func (h *Hub) handleCallUser(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.To == "" {
		h.sendError(c, "call_user requires to")
		return
	}

	callee, online := h.registry.Lookup(msg.To)
	if !online {
		// Only the caller learns the call failed; the callee never sees
		// a missed attempt.
		c.Enqueue(OutgoingMessage{Type: EventCallFailed, Payload: CallFailedPayload{Reason: "user unavailable"}})
		return
	}

	name := msg.Name
	if name == "" {
		if u, err := h.users.GetByID(ctx, c.UserID()); err == nil {
			name = u.Name
		}
	}
	callee.Enqueue(OutgoingMessage{
		Type:    EventIncomingCall,
		Payload: IncomingCallPayload{From: c.UserID(), Name: name, Signal: msg.Signal},
	})
}

func (h *Hub) handleAnswerCall(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.To == "" {
		h.sendError(c, "answer_call requires to")
		return
	}

	// The caller hanging up or dropping between offer and answer is
	// ordinary churn; the answer is silently discarded.
	h.registry.Send(msg.To, OutgoingMessage{
		Type:    EventCallAccepted,
		Payload: CallAcceptedPayload{From: c.UserID(), Signal: msg.Signal},
	})
}

func (h *Hub) handleEndCall(ctx context.Context, c Conn, msg IncomingMessage) {
	if msg.To == "" {
		return
	}

	// Fire and forget, same as the other leg ending an already-dead call.
	h.registry.Send(msg.To, OutgoingMessage{Type: EventCallEnded, Payload: nil})
}
