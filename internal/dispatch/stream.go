package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the slice of the AMQP connection the stream destination needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// StreamDestination publishes classified purchases to the internal event
// stream so analytics consumers see the same purchase record the external
// destinations receive.
type StreamDestination struct {
	publisher  Publisher
	routingKey string
}

func NewStreamDestination(publisher Publisher, routingKey string) *StreamDestination {
	return &StreamDestination{publisher: publisher, routingKey: routingKey}
}

func (d *StreamDestination) Name() string {
	return "event_stream"
}

type streamEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OrderID       string          `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        int64           `json:"amount"` // minor units
	Currency      string          `json:"currency"`
	Products      []string        `json:"products"`
	DeliveryFlags map[string]bool `json:"delivery_flags"`
	Source        string          `json:"source"`
	Timestamp     string          `json:"timestamp"`
}

func (d *StreamDestination) Deliver(ctx context.Context, msg *PurchaseMessage) error {
	event := streamEvent{
		EventID:       msg.EventID,
		EventType:     msg.Event.Type,
		OrderID:       msg.Event.OrderID,
		PaymentID:     msg.Event.PaymentID,
		Amount:        msg.Event.Amount,
		Currency:      msg.Event.Currency,
		Products:      msg.Classification.SKUs,
		DeliveryFlags: msg.Classification.Flags.Map(),
		Source:        msg.Classification.Source,
		Timestamp:     msg.Event.CreatedAt.UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal stream event: %w", err))
	}

	return d.publisher.Publish(ctx, d.routingKey, body)
}
