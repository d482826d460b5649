package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/coursekit/payhook-svc/internal/dedup"
	"github.com/coursekit/payhook-svc/internal/metrics"
	"github.com/coursekit/payhook-svc/internal/models"
	"github.com/coursekit/payhook-svc/internal/signature"
)

// Enqueuer schedules post-acknowledgement processing of a verified purchase.
type Enqueuer interface {
	Enqueue(event *models.PaymentEvent, dedupKey string)
}

// WebhookHandler is the fast-path responder for provider notifications.
// Everything up to the acknowledgement (verify, parse, dedup) runs inline
// inside the provider's latency budget; classification and fan-out are handed
// to the dispatcher as a detached task.
type WebhookHandler struct {
	Secret     string
	Dedup      dedup.Store
	Dispatcher Enqueuer
	Logger     *zap.Logger
}

func NewWebhookHandler(secret string, store dedup.Store, dispatcher Enqueuer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		Secret:     secret,
		Dedup:      store,
		Dispatcher: dispatcher,
		Logger:     logger,
	}
}

// AckResponse is the 200 body; processing_time_ms lets the provider-side
// dashboard confirm we stay inside the acknowledgement budget.
type AckResponse struct {
	Success          bool  `json:"success"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
}

// HandlePaymentWebhook handles POST /webhook/payment.
//
// Responses: 200 accepted (including repeat deliveries), 400 structurally
// invalid body or missing signature header, 401 signature mismatch, 500
// internal error before acknowledgement. The provider retries non-2xx
// responses, which the dedup store absorbs.
func (h *WebhookHandler) HandlePaymentWebhook(c *fiber.Ctx) error {
	start := time.Now()
	metrics.NotificationsTotal.Inc()

	// The signature covers the raw bytes as sent; c.Body() hands them back
	// untouched, before any JSON decoding.
	body := c.Body()

	claimed := c.Get("X-Provider-Signature")
	if claimed == "" {
		metrics.NotificationsInvalidTotal.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing X-Provider-Signature header",
		})
	}

	if !signature.Verify(body, claimed, h.Secret) {
		metrics.NotificationsInvalidTotal.Inc()
		h.Logger.Warn("Rejected notification with invalid signature",
			zap.Int("body_bytes", len(body)),
		)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	var envelope models.NotificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		metrics.NotificationsInvalidTotal.Inc()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed notification body",
		})
	}

	event, err := models.ParsePaymentEvent(&envelope)
	if err != nil {
		metrics.NotificationsInvalidTotal.Inc()
		h.Logger.Warn("Rejected structurally invalid notification",
			zap.String("event", envelope.Event),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if !event.IsPurchase() {
		h.Logger.Info("Acknowledged non-purchase event",
			zap.String("event", event.Type),
			zap.String("order_id", event.OrderID),
		)
		return h.ack(c, start)
	}

	key := models.DedupKey(c.Get("X-Provider-Event-Id"), event.Type, event.OrderID)
	duplicate, err := h.Dedup.Reserve(c.Context(), key)
	if err != nil {
		h.Logger.Error("Dedup store failure",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal error",
		})
	}
	if duplicate {
		metrics.NotificationsDuplicateTotal.Inc()
		h.Logger.Info("Skipping repeat delivery",
			zap.String("dedup_key", key),
			zap.String("order_id", event.OrderID),
		)
		// Still a success: the provider must not retry what it already
		// delivered once.
		return h.ack(c, start)
	}

	// Fan-out runs detached; the provider gets its acknowledgement now.
	h.Dispatcher.Enqueue(event, key)

	h.Logger.Info("Accepted payment notification",
		zap.String("event", event.Type),
		zap.String("order_id", event.OrderID),
		zap.String("payment_id", event.PaymentID),
		zap.Int64("amount", event.Amount),
		zap.String("currency", event.Currency),
	)

	return h.ack(c, start)
}

func (h *WebhookHandler) ack(c *fiber.Ctx, start time.Time) error {
	elapsed := time.Since(start)
	metrics.AckDuration.Observe(elapsed.Seconds())
	return c.JSON(AckResponse{
		Success:          true,
		ProcessingTimeMs: elapsed.Milliseconds(),
	})
}
