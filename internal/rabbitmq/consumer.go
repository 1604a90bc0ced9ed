package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
)

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   logrus.FieldLogger
}

// NewConsumer declares a durable queue bound to every routing key in keys.
func NewConsumer(url, exchange, queue string, keys []string, log logrus.FieldLogger) (*Consumer, error) {
	conn, ch, err := open(url, exchange)
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = closeAll(ch, conn)
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = closeAll(ch, conn)
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	return &Consumer{conn: conn, ch: ch, queue: q.Name, log: log}, nil
}

// Consume acks a delivery once handler accepts it. Undecodable deliveries
// are dropped and failed ones requeued.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, domain.BookingEvent) error) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			var event domain.BookingEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				c.log.WithFields(logrus.Fields{"routing_key": d.RoutingKey, "error": err}).Warn("decode event error")
				_ = d.Nack(false, false)
				continue
			}
			if err := handler(ctx, event); err != nil {
				_ = d.Nack(false, true)
				return err
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return closeAll(c.ch, c.conn)
}
