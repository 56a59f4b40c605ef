// Package audit publishes chat lifecycle events to an AMQP topic exchange
// for consumption by external systems (moderation, analytics). When no
// broker is configured the publisher degrades to a no-op so the chat path
// never depends on messaging infrastructure.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chatline/internal/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher interface {
	Publish(routingKey string, payload any)
	Close() error
}

type event struct {
	key  string
	body []byte
}

// AMQPPublisher writes events to a topic exchange from a single worker
// goroutine. Publish never blocks the caller: when the buffer is full the
// event is dropped and counted in the log.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    chan event
	done     chan struct{}
}

const publishBuffer = 1024

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	p := &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		queue:    make(chan event, publishBuffer),
		done:     make(chan struct{}),
	}
	go p.worker()
	return p, nil
}

func (p *AMQPPublisher) Publish(routingKey string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("audit: marshal %s: %v", routingKey, err)
		return
	}
	select {
	case p.queue <- event{key: routingKey, body: body}:
	default:
		logger.Errorf("audit: buffer full, dropping %s", routingKey)
	}
}

func (p *AMQPPublisher) worker() {
	for {
		select {
		case ev := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := p.ch.PublishWithContext(ctx, p.exchange, ev.key, false, false, amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now(),
				Body:        ev.body,
			})
			cancel()
			if err != nil {
				logger.Errorf("audit: publish %s: %v", ev.key, err)
			}
		case <-p.done:
			return
		}
	}
}

func (p *AMQPPublisher) Close() error {
	close(p.done)
	if err := p.ch.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// NoopPublisher is used when AMQP_URL is not set.
type NoopPublisher struct{}

func (NoopPublisher) Publish(string, any) {}
func (NoopPublisher) Close() error        { return nil }
