package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// publishTimeout bounds one fire-and-forget publish.
const publishTimeout = 5 * time.Second

// Sender is the part of a Connection the publisher needs
type Sender interface {
	Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// Publisher forwards domain events to the exchange, keyed by event type
type Publisher struct {
	sender Sender
}

// NewPublisher creates a new event publisher
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Publish sends one event. The AMQP type carries the event type so
// consumers can decode the body.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	msg, err := publishingFor(event)
	if err != nil {
		return err
	}
	if err := p.sender.Publish(ctx, event.EventType(), msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.EventType(), err)
	}

	slog.Debug("published event",
		"event_id", event.EventID(),
		"type", event.EventType(),
		"aggregate_id", event.AggregateID(),
	)
	return nil
}

// Handler adapts the publisher to the event dispatcher. Publishing runs
// in the background; failures are logged and dropped.
func (p *Publisher) Handler() domain.EventHandler {
	return func(event domain.Event) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := p.Publish(ctx, event); err != nil {
				slog.Warn("event publish failed", "type", event.EventType(), "error", err)
			}
		}()
	}
}

func publishingFor(event domain.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		MessageId: event.EventID().String(),
		Type:      event.EventType(),
		Timestamp: event.OccurredAt(),
		Body:      body,
	}, nil
}
