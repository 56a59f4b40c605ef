package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/model"
	"github.com/chatline/internal/observability"
	"github.com/chatline/internal/repository"
)

const sendTimeout = 10 * time.Second

// Notifier sends Web Push notifications to users without an active
// connection. A nil Notifier is a valid no-op, which is how the service
// runs when VAPID keys are not configured.
type Notifier struct {
	subs  *repository.PushRepository
	vapid *webpush.Options
}

func NewNotifier(subs *repository.PushRepository, keys *VAPIDKeys) *Notifier {
	if keys == nil || keys.PublicKey == "" || keys.PrivateKey == "" {
		return nil
	}
	return &Notifier{
		subs: subs,
		vapid: &webpush.Options{
			Subscriber:      "chatline-push",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		},
	}
}

// Notify delivers a new-message notification to all of userID's
// subscriptions. The sends happen on a separate goroutine; message delivery
// never waits on push endpoints.
func (n *Notifier) Notify(ctx context.Context, userID string, m *model.Message) {
	if n == nil {
		return
	}

	title := "New message"
	if m.Sender != nil && m.Sender.Name != "" {
		title = m.Sender.Name
	}
	payload, err := json.Marshal(map[string]any{
		"title": title,
		"body":  m.Body,
		"data": map[string]string{
			"message_id": m.ID,
			"sender_id":  m.SenderID,
			"chat_id":    m.TargetID,
		},
	})
	if err != nil {
		logger.Errorf("push: marshal payload: %v", err)
		return
	}

	go n.send(userID, payload)
}

func (n *Notifier) send(userID string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	subs, err := n.subs.ListForUser(ctx, userID)
	if err != nil {
		logger.Errorf("push: list subscriptions user=%s: %v", userID, err)
		return
	}

	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			observability.PushSent.WithLabelValues("error").Inc()
			logger.Errorf("push: send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 404 || resp.StatusCode == 410 {
			// Endpoint is gone; drop the stale subscription.
			observability.PushSent.WithLabelValues("expired").Inc()
			if err := n.subs.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push: prune subscription user=%s: %v", userID, err)
			}
			continue
		}
		observability.PushSent.WithLabelValues("ok").Inc()
	}
}
