package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursekit/payhook-svc/internal/dispatch"
	"github.com/coursekit/payhook-svc/internal/models"
)

// AuditStore is the Postgres-backed audit log sink: one purchases row per
// logical purchase and one dispatch_outcomes row per destination per fan-out.
type AuditStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAuditStore(db *gorm.DB, logger *zap.Logger) *AuditStore {
	return &AuditStore{db: db, logger: logger}
}

// RecordPurchase implements dispatch.AuditStore. EventID is unique, so a
// duplicate fan-out (possible when dedup state was lost) upserts the same
// purchase row instead of inserting a second one; its outcomes are appended
// so the repeat delivery stays visible.
func (s *AuditStore) RecordPurchase(ctx context.Context, msg *dispatch.PurchaseMessage, outcomes []dispatch.Outcome) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		purchase := models.Purchase{
			EventID:        msg.EventID,
			DedupKey:       msg.DedupKey,
			PaymentID:      msg.Event.PaymentID,
			OrderID:        msg.Event.OrderID,
			Amount:         msg.Event.Amount,
			Currency:       msg.Event.Currency,
			Email:          msg.Event.Email,
			Phone:          msg.Event.Phone,
			Products:       msg.Classification.SKUs,
			DeliveryFlags:  msg.Classification.Flags.Map(),
			Source:         msg.Classification.Source,
			AmountMismatch: msg.Classification.AmountMismatch,
			EventTimestamp: msg.Event.CreatedAt,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).Create(&purchase).Error; err != nil {
			return fmt.Errorf("failed to insert purchase: %w", err)
		}

		// On conflict the insert returns no id; load the existing row
		if err := tx.Where("event_id = ?", msg.EventID).First(&purchase).Error; err != nil {
			return fmt.Errorf("failed to load purchase row: %w", err)
		}

		for _, outcome := range outcomes {
			row := models.DispatchOutcomeLog{
				PurchaseID:  purchase.ID,
				Destination: outcome.Destination,
				Success:     outcome.Success,
				Attempts:    outcome.Attempts,
				LatencyMs:   int(outcome.Latency.Milliseconds()),
			}
			if outcome.Err != nil {
				detail := outcome.Err.Error()
				row.LastError = &detail
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert dispatch outcome for %s: %w", outcome.Destination, err)
			}
		}

		return nil
	})
}
