package dispatch

import (
	"context"
	"net/http"
	"time"
)

// CRMDestination forwards purchases to the CRM automation webhook, which
// fans them into the email sequences and fulfillment automations.
type CRMDestination struct {
	url    string
	client *http.Client
}

func NewCRMDestination(url string, client *http.Client) *CRMDestination {
	if client == nil {
		client = &http.Client{}
	}
	return &CRMDestination{url: url, client: client}
}

func (d *CRMDestination) Name() string {
	return "crm"
}

type crmPayload struct {
	EventID       string          `json:"event_id"`
	OrderID       string          `json:"order_id"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	Amount        int64           `json:"amount"` // major units
	Currency      string          `json:"currency"`
	Products      []string        `json:"products"`
	DeliveryFlags map[string]bool `json:"delivery_flags"`
	Timestamp     string          `json:"timestamp"`
}

func (d *CRMDestination) Deliver(ctx context.Context, msg *PurchaseMessage) error {
	payload := crmPayload{
		EventID:       msg.EventID,
		OrderID:       msg.Event.OrderID,
		CustomerEmail: msg.Event.Email,
		CustomerPhone: msg.Event.Phone,
		Amount:        msg.Event.AmountMajor(),
		Currency:      msg.Event.Currency,
		Products:      msg.Classification.SKUs,
		DeliveryFlags: msg.Classification.Flags.Map(),
		Timestamp:     msg.Event.CreatedAt.UTC().Format(time.RFC3339),
	}

	return postJSON(ctx, d.client, d.url, nil, payload)
}
