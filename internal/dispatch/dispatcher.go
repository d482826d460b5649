package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coursekit/payhook-svc/internal/classifier"
	"github.com/coursekit/payhook-svc/internal/metrics"
	"github.com/coursekit/payhook-svc/internal/models"
)

// PurchaseMessage is the unit of fan-out: one verified payment with its
// resolved classification and the shared idempotency token.
type PurchaseMessage struct {
	Event          *models.PaymentEvent
	Classification classifier.Classification
	EventID        string
	DedupKey       string
}

// Destination is one downstream collaborator. Deliver must honor ctx and
// return a PermanentError for failures that retrying cannot fix.
type Destination interface {
	Name() string
	Deliver(ctx context.Context, msg *PurchaseMessage) error
}

// Outcome is the settled per-destination result of one fan-out.
type Outcome struct {
	Destination string
	Success     bool
	Attempts    int
	Latency     time.Duration
	Err         error
}

// AuditStore persists the purchase record and its outcomes after fan-out
// settles. Failures are logged, never propagated.
type AuditStore interface {
	RecordPurchase(ctx context.Context, msg *PurchaseMessage, outcomes []Outcome) error
}

// Options tunes retry and timeout behavior per destination.
type Options struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	DestinationTimeout time.Duration
}

// Dispatcher classifies verified purchases and delivers them concurrently to
// every configured destination. All work happens after the webhook caller has
// been acknowledged, so there is no caller-visible error path here; failures
// end up in logs, metrics, and the audit store.
type Dispatcher struct {
	catalog      *classifier.Catalog
	destinations []Destination
	audit        AuditStore
	opts         Options
	logger       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. audit may be nil (outcomes are then
// logged only).
func NewDispatcher(catalog *classifier.Catalog, destinations []Destination, audit AuditStore, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.DestinationTimeout <= 0 {
		opts.DestinationTimeout = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		catalog:      catalog,
		destinations: destinations,
		audit:        audit,
		opts:         opts,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Enqueue schedules classification and fan-out for event as a detached task.
// It returns immediately; the inbound HTTP handler calls this after the
// acknowledgement is already on its way. The task is tracked so Drain can
// wait for it on shutdown.
func (d *Dispatcher) Enqueue(event *models.PaymentEvent, dedupKey string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(event, dedupKey)
	}()
}

// Drain stops accepting new work and waits for in-flight dispatches to
// settle, up to ctx's deadline.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

func (d *Dispatcher) process(event *models.PaymentEvent, dedupKey string) {
	classification := d.catalog.Classify(event.AmountMajor(), event.Notes["products"])

	if classification.AmountMismatch {
		metrics.ClassificationMismatchTotal.Inc()
		d.logger.Warn("Products hint rejected, using amount-based classification",
			zap.String("order_id", event.OrderID),
			zap.Int64("amount", classification.Amount),
			zap.String("hint", event.Notes["products"]),
		)
	}
	if classification.Unrecognized {
		d.logger.Warn("Amount below every catalog tier, falling back to base bundle",
			zap.String("order_id", event.OrderID),
			zap.Int64("amount", classification.Amount),
		)
	}

	msg := &PurchaseMessage{
		Event:          event,
		Classification: classification,
		EventID:        event.EventID(),
		DedupKey:       dedupKey,
	}

	outcomes := d.fanOut(msg)

	failed := 0
	for _, outcome := range outcomes {
		status := "success"
		if !outcome.Success {
			status = "failure"
			failed++
		}
		metrics.DispatchResultsTotal.WithLabelValues(outcome.Destination, status).Inc()

		fields := []zap.Field{
			zap.String("destination", outcome.Destination),
			zap.String("event_id", msg.EventID),
			zap.Int("attempts", outcome.Attempts),
			zap.Duration("latency", outcome.Latency),
		}
		if outcome.Success {
			d.logger.Info("Destination delivery succeeded", fields...)
		} else {
			d.logger.Error("Destination delivery failed", append(fields, zap.Error(outcome.Err))...)
		}
	}

	if d.audit != nil {
		auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.audit.RecordPurchase(auditCtx, msg, outcomes); err != nil {
			d.logger.Error("Failed to write purchase audit record",
				zap.String("event_id", msg.EventID),
				zap.Error(err),
			)
		}
	}

	d.logger.Info("Fan-out settled",
		zap.String("event_id", msg.EventID),
		zap.String("order_id", event.OrderID),
		zap.Strings("products", classification.SKUs),
		zap.String("source", classification.Source),
		zap.Int("destinations", len(outcomes)),
		zap.Int("failed", failed),
	)
}

// fanOut delivers msg to every destination concurrently. Each destination
// gets its own retry budget and timeout so a hung or failing destination
// cannot delay or block the others.
func (d *Dispatcher) fanOut(msg *PurchaseMessage) []Outcome {
	outcomes := make([]Outcome, len(d.destinations))

	var wg sync.WaitGroup
	for i, dest := range d.destinations {
		wg.Add(1)
		go func(i int, dest Destination) {
			defer wg.Done()
			outcomes[i] = d.deliverOne(dest, msg)
		}(i, dest)
	}
	wg.Wait()

	return outcomes
}

func (d *Dispatcher) deliverOne(dest Destination, msg *PurchaseMessage) Outcome {
	start := time.Now()

	attempts, err := Do(d.ctx, d.opts.MaxAttempts, d.opts.BaseDelay, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.DestinationTimeout)
		defer cancel()
		return dest.Deliver(attemptCtx, msg)
	})

	return Outcome{
		Destination: dest.Name(),
		Success:     err == nil,
		Attempts:    attempts,
		Latency:     time.Since(start),
		Err:         err,
	}
}
