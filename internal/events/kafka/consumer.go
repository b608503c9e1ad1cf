package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models/events"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationHandler applies one gateway notification.
type NotificationHandler func(ctx context.Context, n models.Notification) error

// Consumer reads gateway notifications from a topic. An offset is committed
// only after the handler has applied the message; malformed payloads are
// logged and committed so they do not block the partition.
type Consumer struct {
	reader  messageReader
	handler NotificationHandler
	log     zerolog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, handler NotificationHandler, log zerolog.Logger) *Consumer {
	if topic == "" {
		topic = events.TopicGatewayNotifications
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  groupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 1 << 20,
		}),
		handler: handler,
		log:     log.With().Str("component", "notifications").Str("topic", topic).Logger(),
	}
}

// Run consumes until ctx is done. A handler failure stops the consumer
// without committing, so the message is redelivered on restart.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch notification: %w", err)
		}

		n, err := events.DecodeNotification(msg.Value)
		if err != nil {
			c.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("skipping malformed notification")
		} else if err := c.handler(ctx, n); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("handle notification at offset %d: %w", msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit notification: %w", err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
