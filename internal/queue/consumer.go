package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DirectoryStore materializes identity facts in the directory. Upsert must be
// idempotent on the identity id: the queue delivers at least once.
type DirectoryStore interface {
	Upsert(ctx context.Context, id int64, username, name string) error
}

// Consumer is the long-lived task that drains the provisioning queue.
// It reconnects with capped backoff, acknowledges a delivery only after the
// directory write committed, and shuts down when its context is cancelled.
type Consumer struct {
	url   string
	queue string
	store DirectoryStore
	log   *zap.Logger
}

func NewConsumer(url, queue string, store DirectoryStore, log *zap.Logger) *Consumer {
	return &Consumer{url: url, queue: queue, store: store, log: log}
}

// Run blocks until ctx is cancelled. Individual message failures never end
// the task; they are logged and the message is left for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("consumer: consume loop ended, reconnecting", zap.Error(err))
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			// Unacked deliveries return to the queue once the connection
			// drops; the upsert keeps their redelivery harmless.
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle applies one delivery. The ack goes out only after the upsert
// committed; a store failure leaves the message unacked for redelivery.
// A payload that cannot be decoded is rejected without requeue, since
// redelivering it can never succeed.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	var ev UserCreated
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.log.Error("consumer: undecodable message dropped", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if err := c.store.Upsert(ctx, ev.ID, ev.Username, ev.Name); err != nil {
		c.log.Error("consumer: directory upsert failed", zap.Error(err), zap.Int64("user_id", ev.ID))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}
