// Package notify publishes cart lifecycle events for downstream consumers (CRM sync,
// analytics, SMS).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const EventCartAbandoned = "cart.abandoned"

type CartAbandonedEvent struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	Platform      string    `json:"platform"`
	CartID        string    `json:"cart_id"`
	StoreURL      string    `json:"store_url"`
	CustomerEmail string    `json:"customer_email"`
	Total         float64   `json:"total"`
	Currency      string    `json:"currency"`
	ItemCount     int       `json:"item_count"`
	LastActivity  time.Time `json:"last_activity"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishCartAbandoned(ctx context.Context, event CartAbandonedEvent) error
	Close() error
}

// KafkaPublisher writes events keyed by platform/cart so all events of one cart land on
// the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           5 * time.Second,
	}}
}

func (p *KafkaPublisher) PublishCartAbandoned(ctx context.Context, event CartAbandonedEvent) error {
	event.Type = EventCartAbandoned
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", EventCartAbandoned, err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(event.Platform + "/" + event.CartID),
		Value:   value,
		Time:    event.OccurredAt,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(EventCartAbandoned)}},
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", EventCartAbandoned, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of publishing them. Used when no brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "notify")}
}

func (p *LogPublisher) PublishCartAbandoned(ctx context.Context, event CartAbandonedEvent) error {
	p.logger.InfoContext(ctx, "event (no broker configured)",
		"type", EventCartAbandoned,
		"event_id", event.EventID,
		"cart_id", event.CartID,
		"platform", event.Platform,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
