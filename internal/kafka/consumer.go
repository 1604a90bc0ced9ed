package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/templeseva/darshan/internal/domain"
)

type Consumer struct {
	reader *kafka.Reader
	log    logrus.FieldLogger
}

func NewConsumer(brokers []string, groupID, topic string, log logrus.FieldLogger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		log: log,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume decodes booking events and hands them to handler until ctx ends or
// handler fails. Undecodable messages are logged and skipped.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, domain.BookingEvent) error) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			return err
		}

		event, ok := c.decode(msg)
		if !ok {
			continue
		}
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
}

func (c *Consumer) decode(msg kafka.Message) (domain.BookingEvent, bool) {
	var event domain.BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.WithFields(logrus.Fields{"topic": msg.Topic, "offset": msg.Offset, "error": err}).Warn("decode event error")
		return event, false
	}
	return event, true
}
