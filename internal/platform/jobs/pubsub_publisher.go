package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/inkfold/api/internal/services"
)

// PubSubOrderEventPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic    *pubsub.Topic
	ordered  bool
	marshal  func(any) ([]byte, error)
	deadline time.Duration
}

// PublisherOption customises the publisher.
type PublisherOption func(*PubSubOrderEventPublisher)

// WithOrderedDelivery keys messages by order id so subscribers see one order's events in sequence.
func WithOrderedDelivery() PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		p.ordered = true
	}
}

// WithPublishTimeout bounds how long a single publish may block the request.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *PubSubOrderEventPublisher) {
		if d > 0 {
			p.deadline = d
		}
	}
}

// orderEventMessage is the wire payload consumed by downstream workers.
type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	p := &PubSubOrderEventPublisher{
		topic:    topic,
		marshal:  json.Marshal,
		deadline: 5 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.ordered {
		topic.EnableMessageOrdering = true
	}
	return p, nil
}

// PublishOrderEvent sends the event and waits for the server acknowledgement.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}
	if strings.TrimSpace(event.Type) == "" || strings.TrimSpace(event.OrderID) == "" {
		return errors.New("pubsub order publisher: event type and order id are required")
	}

	data, err := p.marshal(orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "actorId", event.ActorID)
	setAttr(attrs, "status", event.CurrentStatus)

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	if p.ordered {
		msg.OrderingKey = event.OrderID
	}

	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if p.ordered {
			// A failed ordered publish pauses the key until resumed.
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
