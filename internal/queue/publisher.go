package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher hands identity facts to the broker. The queue is durable and
// messages are persistent, so an accepted publish survives broker restarts.
// Publish errors go back to the registration caller rather than being
// swallowed: the identity is already committed at that point, and the caller
// has to know provisioning did not happen.
type Publisher struct {
	url   string
	queue string
	log   *zap.Logger
}

func NewPublisher(url, queue string, log *zap.Logger) *Publisher {
	return &Publisher{url: url, queue: queue, log: log}
}

// Publish serializes the fact and delivers it to the durable queue.
func (p *Publisher) Publish(ctx context.Context, ev UserCreated) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Error("publisher: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Error("publisher: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Declare is idempotent; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		p.log.Error("publisher: queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent, // store on disk
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		p.log.Error("publisher: publish failed", zap.Error(err), zap.Int64("user_id", ev.ID))
		return err
	}
	return nil
}
