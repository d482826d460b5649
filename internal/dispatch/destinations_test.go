package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coursekit/payhook-svc/internal/classifier"
	"github.com/coursekit/payhook-svc/internal/models"
)

func testMessage() *PurchaseMessage {
	event := testEvent("order_dest", 199900, nil)
	return &PurchaseMessage{
		Event:          event,
		Classification: classifier.Default().Classify(event.AmountMajor(), ""),
		EventID:        event.EventID(),
		DedupKey:       models.DedupKey("", event.Type, event.OrderID),
	}
}

func TestCRMDestinationPayload(t *testing.T) {
	var got crmPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dest := NewCRMDestination(server.URL, server.Client())
	if err := dest.Deliver(context.Background(), testMessage()); err != nil {
		t.Fatal(err)
	}

	if got.EventID != "purchase_order_dest" {
		t.Errorf("event_id = %q", got.EventID)
	}
	if got.OrderID != "order_dest" {
		t.Errorf("order_id = %q", got.OrderID)
	}
	if got.Amount != 1999 {
		t.Errorf("amount = %d, want major units 1999", got.Amount)
	}
	if got.CustomerEmail != "customer@example.com" {
		t.Errorf("customer_email = %q", got.CustomerEmail)
	}
	if len(got.Products) != 1 || got.Products[0] != classifier.SKUCourse {
		t.Errorf("products = %v", got.Products)
	}
	if !got.DeliveryFlags["course_access"] {
		t.Errorf("delivery_flags = %v", got.DeliveryFlags)
	}
}

func TestConversionsDestinationPayload(t *testing.T) {
	var got conversionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dest := NewConversionsDestination(server.URL, "token-123", "pixel-1", server.Client())
	if err := dest.Deliver(context.Background(), testMessage()); err != nil {
		t.Fatal(err)
	}

	if len(got.Data) != 1 {
		t.Fatalf("expected one event, got %d", len(got.Data))
	}
	ev := got.Data[0]

	if ev.EventName != "Purchase" {
		t.Errorf("event_name = %q", ev.EventName)
	}
	// Same event id the client-side pixel uses, so the network deduplicates
	if ev.EventID != "purchase_order_dest" {
		t.Errorf("event_id = %q", ev.EventID)
	}

	emailSum := sha256.Sum256([]byte("customer@example.com"))
	if len(ev.UserData.EmailHashes) != 1 || ev.UserData.EmailHashes[0] != hex.EncodeToString(emailSum[:]) {
		t.Errorf("em = %v, want sha256 of normalized email", ev.UserData.EmailHashes)
	}
	phoneSum := sha256.Sum256([]byte("919876543210"))
	if len(ev.UserData.PhoneHashes) != 1 || ev.UserData.PhoneHashes[0] != hex.EncodeToString(phoneSum[:]) {
		t.Errorf("ph = %v, want sha256 of digits only", ev.UserData.PhoneHashes)
	}

	if ev.CustomData.Value != 1999 || ev.CustomData.Currency != "INR" {
		t.Errorf("custom_data = %+v", ev.CustomData)
	}
	if got.AccessToken != "token-123" || got.PixelID != "pixel-1" {
		t.Errorf("credentials not forwarded: %+v", got)
	}
}

func TestHashNormalization(t *testing.T) {
	if HashEmail("  Customer@Example.COM ") != HashEmail("customer@example.com") {
		t.Error("email hashing must normalize case and whitespace")
	}
	if HashPhone("+91 98765-43210") != HashPhone("919876543210") {
		t.Error("phone hashing must strip non-digits")
	}
	if HashEmail("") != "" || HashPhone("n/a") != "" {
		t.Error("empty PII must hash to empty string")
	}
}

func TestPostJSONStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
		wantErr   bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusTooManyRequests, false, true},
		{http.StatusRequestTimeout, false, true},
		{http.StatusInternalServerError, false, true},
		{http.StatusBadGateway, false, true},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		err := postJSON(context.Background(), server.Client(), server.URL, nil, map[string]string{"k": "v"})
		server.Close()

		if tt.wantErr != (err != nil) {
			t.Errorf("status %d: err = %v, wantErr %t", tt.status, err, tt.wantErr)
			continue
		}

		var perm *PermanentError
		if got := errors.As(err, &perm); got != tt.permanent {
			t.Errorf("status %d: permanent = %t, want %t", tt.status, got, tt.permanent)
		}
	}
}

func TestStreamDestinationPublishes(t *testing.T) {
	pub := &capturePublisher{}
	dest := NewStreamDestination(pub, "purchase.captured")

	msg := testMessage()
	if err := dest.Deliver(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if pub.routingKey != "purchase.captured" {
		t.Errorf("routing key = %q", pub.routingKey)
	}

	var got streamEvent
	if err := json.Unmarshal(pub.body, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventID != msg.EventID {
		t.Errorf("event_id = %q, want %q", got.EventID, msg.EventID)
	}
	if got.Amount != 199900 {
		t.Errorf("stream amount = %d, want minor units 199900", got.Amount)
	}
	if got.Timestamp == "" {
		t.Error("missing timestamp")
	}
	if _, err := time.Parse(time.RFC3339, got.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
}

type capturePublisher struct {
	routingKey string
	body       []byte
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, body []byte) error {
	p.routingKey = routingKey
	p.body = body
	return nil
}
