package handlers

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PurchasesHandler exposes the audit log for operators: recent purchases with
// their classification and settled fan-out status.
type PurchasesHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewPurchasesHandler(db *gorm.DB, logger *zap.Logger) *PurchasesHandler {
	return &PurchasesHandler{
		DB:     db,
		Logger: logger,
	}
}

// PurchasesResponse represents the response structure for GET /purchases
type PurchasesResponse struct {
	Purchases []PurchaseDTO `json:"purchases"`
	HasMore   bool          `json:"has_more"`
}

// PurchaseDTO represents a single audited purchase in the response
type PurchaseDTO struct {
	ID             string   `json:"id"`
	EventID        string   `json:"event_id"`
	OrderID        string   `json:"order_id"`
	Amount         int64    `json:"amount"`
	Currency       string   `json:"currency"`
	Products       []string `json:"products"`
	Source         string   `json:"source"`
	AmountMismatch bool     `json:"amount_mismatch"`
	DispatchStatus string   `json:"dispatch_status"` // delivered, partial, failed, pending
	Timestamp      string   `json:"timestamp"`       // UTC ISO 8601 format
}

// GetPurchases handles GET /api/v1/purchases
// Query parameters:
//   - limit (optional, default 25): Number of purchases to return
//   - offset (optional, default 0): Number of purchases to skip
func (h *PurchasesHandler) GetPurchases(c *fiber.Ctx) error {
	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a positive integer",
			})
		}
		limit = parsedLimit
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsedOffset, err := strconv.Atoi(offsetStr)
		if err != nil || parsedOffset < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "offset must be a non-negative integer",
			})
		}
		offset = parsedOffset
	}

	type purchaseRow struct {
		ID             uuid.UUID
		EventID        string
		OrderID        string
		Amount         int64
		Currency       string
		Products       []byte // jsonb array of SKUs
		Source         string
		AmountMismatch bool
		CreatedAt      time.Time
	}

	var purchases []purchaseRow

	query := h.DB.Table("purchases").
		Select("id, event_id, order_id, amount, currency, products, source, amount_mismatch, created_at").
		Order("created_at DESC").
		Limit(limit + 1). // Fetch one extra to determine has_more
		Offset(offset)

	if err := query.Scan(&purchases).Error; err != nil {
		h.Logger.Error("Failed to query purchases", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch purchases",
		})
	}

	if len(purchases) == 0 {
		return c.JSON(PurchasesResponse{
			Purchases: []PurchaseDTO{},
			HasMore:   false,
		})
	}

	hasMore := len(purchases) > limit
	if hasMore {
		purchases = purchases[:limit]
	}

	purchaseIDs := make([]uuid.UUID, len(purchases))
	for i, p := range purchases {
		purchaseIDs[i] = p.ID
	}

	// Aggregate settled outcomes per purchase to derive a dispatch status
	type outcomeAgg struct {
		PurchaseID uuid.UUID
		Total      int
		Failed     int
	}

	var aggs []outcomeAgg
	if err := h.DB.Table("dispatch_outcomes").
		Select("purchase_id, COUNT(*) AS total, SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failed").
		Where("purchase_id IN ?", purchaseIDs).
		Group("purchase_id").
		Scan(&aggs).Error; err != nil {
		// Continue without statuses; the purchase list is still useful
		h.Logger.Warn("Failed to aggregate dispatch outcomes", zap.Error(err))
	}

	statusMap := make(map[uuid.UUID]string, len(aggs))
	for _, agg := range aggs {
		statusMap[agg.PurchaseID] = mapDispatchStatus(agg.Total, agg.Failed)
	}

	dtos := make([]PurchaseDTO, 0, len(purchases))
	for _, p := range purchases {
		status, ok := statusMap[p.ID]
		if !ok {
			status = "pending"
		}
		var products []string
		if len(p.Products) > 0 {
			if err := json.Unmarshal(p.Products, &products); err != nil {
				h.Logger.Warn("Failed to decode products column",
					zap.String("purchase_id", p.ID.String()),
					zap.Error(err),
				)
			}
		}
		dtos = append(dtos, PurchaseDTO{
			ID:             p.ID.String(),
			EventID:        p.EventID,
			OrderID:        p.OrderID,
			Amount:         p.Amount,
			Currency:       p.Currency,
			Products:       products,
			Source:         p.Source,
			AmountMismatch: p.AmountMismatch,
			DispatchStatus: status,
			Timestamp:      p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return c.JSON(PurchasesResponse{
		Purchases: dtos,
		HasMore:   hasMore,
	})
}

// mapDispatchStatus folds per-destination results into one display status:
// every destination succeeded -> delivered; some -> partial; none -> failed.
func mapDispatchStatus(total, failed int) string {
	switch {
	case total == 0:
		return "pending"
	case failed == 0:
		return "delivered"
	case failed < total:
		return "partial"
	default:
		return "failed"
	}
}
