package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/coursekit/payhook-svc/internal/classifier"
	"github.com/coursekit/payhook-svc/internal/models"
)

type stubDestination struct {
	name  string
	err   error
	delay time.Duration

	mu       sync.Mutex
	calls    int
	received []*PurchaseMessage
}

func (d *stubDestination) Name() string { return d.name }

func (d *stubDestination) Deliver(ctx context.Context, msg *PurchaseMessage) error {
	d.mu.Lock()
	d.calls++
	d.received = append(d.received, msg)
	d.mu.Unlock()

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.err
}

func (d *stubDestination) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubAudit struct {
	mu       sync.Mutex
	messages []*PurchaseMessage
	outcomes [][]Outcome
}

func (a *stubAudit) RecordPurchase(_ context.Context, msg *PurchaseMessage, outcomes []Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg)
	a.outcomes = append(a.outcomes, outcomes)
	return nil
}

func testEvent(orderID string, amountMinor int64, notes models.Notes) *models.PaymentEvent {
	if notes == nil {
		notes = models.Notes{}
	}
	return &models.PaymentEvent{
		Type:      models.EventPaymentCaptured,
		PaymentID: "pay_" + orderID,
		OrderID:   orderID,
		Amount:    amountMinor,
		Currency:  "INR",
		Email:     "customer@example.com",
		Phone:     "+919876543210",
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
}

func drain(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestFanOutIsolation(t *testing.T) {
	failing := &stubDestination{name: "crm", err: errors.New("always down")}
	healthy := &stubDestination{name: "conversions"}
	audit := &stubAudit{}

	d := NewDispatcher(classifier.Default(), []Destination{failing, healthy}, audit,
		Options{MaxAttempts: 3, BaseDelay: time.Millisecond, DestinationTimeout: time.Second},
		zap.NewNop())

	d.Enqueue(testEvent("order_iso", 199900, nil), "payment.captured:order_iso")
	drain(t, d)

	if len(audit.outcomes) != 1 {
		t.Fatalf("expected one audit record, got %d", len(audit.outcomes))
	}

	byName := map[string]Outcome{}
	for _, o := range audit.outcomes[0] {
		byName[o.Destination] = o
	}

	crm, ok := byName["crm"]
	if !ok {
		t.Fatal("missing crm outcome")
	}
	if crm.Success {
		t.Error("failing destination reported success")
	}
	if crm.Attempts != 3 {
		t.Errorf("failing destination attempts = %d, want 3", crm.Attempts)
	}
	if crm.Err == nil {
		t.Error("failing outcome must carry the last error")
	}

	conv, ok := byName["conversions"]
	if !ok {
		t.Fatal("missing conversions outcome")
	}
	if !conv.Success {
		t.Errorf("healthy destination failed: %v", conv.Err)
	}
	if conv.Attempts != 1 {
		t.Errorf("healthy destination attempts = %d, want 1", conv.Attempts)
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	rejecting := &stubDestination{name: "crm", err: Permanent(errors.New("400 bad request"))}
	audit := &stubAudit{}

	d := NewDispatcher(classifier.Default(), []Destination{rejecting}, audit,
		Options{MaxAttempts: 5, BaseDelay: time.Millisecond, DestinationTimeout: time.Second},
		zap.NewNop())

	d.Enqueue(testEvent("order_perm", 199900, nil), "k")
	drain(t, d)

	if rejecting.callCount() != 1 {
		t.Errorf("permanent failure was retried %d times", rejecting.callCount())
	}
	if audit.outcomes[0][0].Attempts != 1 {
		t.Errorf("recorded attempts = %d, want 1", audit.outcomes[0][0].Attempts)
	}
}

func TestEnqueueDoesNotBlockOnSlowDestination(t *testing.T) {
	slow := &stubDestination{name: "crm", delay: 300 * time.Millisecond}
	d := NewDispatcher(classifier.Default(), []Destination{slow}, nil,
		Options{MaxAttempts: 1, BaseDelay: time.Millisecond, DestinationTimeout: time.Second},
		zap.NewNop())

	start := time.Now()
	d.Enqueue(testEvent("order_slow", 199900, nil), "k")
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("Enqueue blocked for %v; must return before deliveries run", elapsed)
	}

	drain(t, d)
	if slow.callCount() != 1 {
		t.Errorf("slow destination was never delivered to")
	}
}

func TestHungDestinationTimesOut(t *testing.T) {
	hung := &stubDestination{name: "crm", delay: 10 * time.Second}
	audit := &stubAudit{}

	d := NewDispatcher(classifier.Default(), []Destination{hung}, audit,
		Options{MaxAttempts: 1, BaseDelay: time.Millisecond, DestinationTimeout: 50 * time.Millisecond},
		zap.NewNop())

	d.Enqueue(testEvent("order_hung", 199900, nil), "k")
	drain(t, d)

	outcome := audit.outcomes[0][0]
	if outcome.Success {
		t.Error("hung destination reported success")
	}
	if outcome.Latency > 2*time.Second {
		t.Errorf("hung destination stalled the batch for %v", outcome.Latency)
	}
}

func TestDispatchCarriesClassificationAndEventID(t *testing.T) {
	dest := &stubDestination{name: "crm"}
	audit := &stubAudit{}

	d := NewDispatcher(classifier.Default(), []Destination{dest}, audit,
		Options{MaxAttempts: 1, BaseDelay: time.Millisecond, DestinationTimeout: time.Second},
		zap.NewNop())

	// 11999 paid with a hint summing to 11998: hint wins
	notes := models.Notes{"products": `["course","database","strategy_call"]`}
	d.Enqueue(testEvent("order_full", 1199900, notes), "payment.captured:order_full")
	drain(t, d)

	if len(dest.received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(dest.received))
	}
	msg := dest.received[0]

	if msg.EventID != "purchase_order_full" {
		t.Errorf("EventID = %q, want purchase_order_full", msg.EventID)
	}
	if msg.Classification.Source != classifier.SourceHintBased {
		t.Errorf("classification source = %s, want hint_based", msg.Classification.Source)
	}
	if len(msg.Classification.SKUs) != 3 {
		t.Errorf("SKUs = %v, want the full bundle", msg.Classification.SKUs)
	}

	// Audit saw the same message and a settled outcome
	if len(audit.messages) != 1 || audit.messages[0].EventID != msg.EventID {
		t.Error("audit record does not match the dispatched message")
	}
}

func TestDrainWaitsForInFlightWork(t *testing.T) {
	slow := &stubDestination{name: "crm", delay: 150 * time.Millisecond}
	audit := &stubAudit{}

	d := NewDispatcher(classifier.Default(), []Destination{slow}, audit,
		Options{MaxAttempts: 1, BaseDelay: time.Millisecond, DestinationTimeout: time.Second},
		zap.NewNop())

	d.Enqueue(testEvent("order_drain", 199900, nil), "k")
	drain(t, d)

	if len(audit.outcomes) != 1 {
		t.Error("Drain returned before the in-flight dispatch settled")
	}
}
