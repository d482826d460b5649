package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification event types sent by the payment provider.
const (
	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"
	EventPaymentFailed   = "payment.failed"
)

// Notes holds the arbitrary key-value pairs attached at order-creation time.
// The provider serializes empty notes as a JSON array, and note values are
// not guaranteed to be strings, so decoding has to be tolerant.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	*n = Notes{}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		// Empty notes arrive as "[]"; anything else non-object is ignored
		return nil
	}

	for key, val := range raw {
		switch v := val.(type) {
		case string:
			(*n)[key] = v
		case float64:
			(*n)[key] = fmt.Sprintf("%v", v)
		case bool:
			(*n)[key] = fmt.Sprintf("%t", v)
		}
	}
	return nil
}

// PaymentEntity is the provider's payment object inside the notification envelope.
type PaymentEntity struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"` // minor currency units
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Email     string `json:"email"`
	Contact   string `json:"contact"`
	Notes     Notes  `json:"notes"`
	CreatedAt int64  `json:"created_at"` // unix seconds
}

// NotificationEnvelope is the raw inbound webhook body.
type NotificationEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// PaymentEvent is the parsed, validated representation of one notification.
// Immutable once built; everything downstream of signature verification
// consumes this instead of the raw envelope.
type PaymentEvent struct {
	Type      string
	PaymentID string
	OrderID   string
	Amount    int64 // minor currency units
	Currency  string
	Email     string
	Phone     string
	Notes     Notes
	CreatedAt time.Time
}

// ParsePaymentEvent validates the envelope and builds a PaymentEvent.
// Returns an error for structurally invalid notifications (missing order id,
// non-positive amount, unrecognized currency).
func ParsePaymentEvent(env *NotificationEnvelope) (*PaymentEvent, error) {
	entity := env.Payload.Payment.Entity

	if env.Event == "" {
		return nil, fmt.Errorf("missing event type")
	}
	if entity.OrderID == "" {
		return nil, fmt.Errorf("missing order_id")
	}
	if entity.Amount <= 0 {
		return nil, fmt.Errorf("invalid amount: %d", entity.Amount)
	}
	if !validCurrency(entity.Currency) {
		return nil, fmt.Errorf("unrecognized currency: %q", entity.Currency)
	}

	createdAt := time.Now().UTC()
	if entity.CreatedAt > 0 {
		createdAt = time.Unix(entity.CreatedAt, 0).UTC()
	}

	notes := entity.Notes
	if notes == nil {
		notes = Notes{}
	}

	return &PaymentEvent{
		Type:      env.Event,
		PaymentID: entity.ID,
		OrderID:   entity.OrderID,
		Amount:    entity.Amount,
		Currency:  entity.Currency,
		Email:     entity.Email,
		Phone:     entity.Contact,
		Notes:     notes,
		CreatedAt: createdAt,
	}, nil
}

// IsPurchase reports whether this event type represents a completed payment
// that should be classified and fanned out.
func (e *PaymentEvent) IsPurchase() bool {
	return e.Type == EventPaymentCaptured || e.Type == EventOrderPaid
}

// AmountMajor converts the minor-unit amount to major currency units,
// truncating the fractional part (prices in the catalog are whole units).
func (e *PaymentEvent) AmountMajor() int64 {
	return e.Amount / 100
}

// EventID returns the cross-system idempotency token for this purchase.
// Stable for a given order id so the server-side conversion reports and the
// client-side pixel deduplicate against each other.
func (e *PaymentEvent) EventID() string {
	return "purchase_" + e.OrderID
}

// DedupKey derives the repeat-delivery detection key. The provider's event id
// is preferred when present; otherwise event type + order id identifies the
// logical event across retries.
func DedupKey(providerEventID, eventType, orderID string) string {
	if providerEventID != "" {
		return providerEventID
	}
	return eventType + ":" + orderID
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, c := range code {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
