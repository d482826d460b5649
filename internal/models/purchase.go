package models

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is the audit record of one classified payment, written after
// fan-out settles. One row per logical purchase (EventID is unique).
type Purchase struct {
	ID             uuid.UUID       `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	EventID        string          `gorm:"not null;uniqueIndex" json:"event_id"`
	DedupKey       string          `gorm:"not null" json:"dedup_key"`
	PaymentID      string          `gorm:"not null" json:"payment_id"`
	OrderID        string          `gorm:"not null" json:"order_id"`
	Amount         int64           `gorm:"not null" json:"amount"` // minor units
	Currency       string          `gorm:"not null" json:"currency"`
	Email          string          `json:"email"`
	Phone          string          `json:"phone"`
	Products       []string        `gorm:"type:jsonb;serializer:json" json:"products"`
	DeliveryFlags  map[string]bool `gorm:"type:jsonb;serializer:json" json:"delivery_flags"`
	Source         string          `gorm:"not null" json:"source"` // amount_based or hint_based
	AmountMismatch bool            `gorm:"not null;default:false" json:"amount_mismatch"`
	EventTimestamp time.Time       `gorm:"not null" json:"event_timestamp"`
	CreatedAt      time.Time       `gorm:"not null;default:now()" json:"created_at"`
}

func (Purchase) TableName() string {
	return "purchases"
}
