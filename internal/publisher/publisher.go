package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "cart-events"

type EventType string

const (
	ProductsAdded   EventType = "cart.products_added"
	QuantityUpdated EventType = "cart.quantity_updated"
	ProductRemoved  EventType = "cart.product_removed"
)

// Event describes one applied cart mutation.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Email      string    `json:"email"`
	ProductIDs []string  `json:"product_ids"`
	Quantity   *uint32   `json:"quantity,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(t EventType, email string, productIDs ...string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Email:      email,
		ProductIDs: productIDs,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}
}

// Publish keys messages by email so one cart's events stay in order.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Email),
		Value: payload,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s failed: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
