package models

import (
	"time"

	"github.com/google/uuid"
)

// DispatchOutcomeLog records the settled result of delivering one purchase to
// one downstream destination: success or failure, how many attempts it took,
// and how long it ran. Observability only; never read on the hot path.
type DispatchOutcomeLog struct {
	ID          int64     `gorm:"primary_key;autoIncrement" json:"id"`
	PurchaseID  uuid.UUID `gorm:"type:uuid;not null" json:"purchase_id"`
	Purchase    Purchase  `gorm:"foreignKey:PurchaseID" json:"purchase,omitempty"`
	Destination string    `gorm:"not null" json:"destination"`
	Success     bool      `gorm:"not null" json:"success"`
	Attempts    int       `gorm:"not null" json:"attempts"`
	LatencyMs   int       `gorm:"not null" json:"latency_ms"`
	LastError   *string   `json:"last_error"`
	CreatedAt   time.Time `gorm:"default:now()" json:"created_at"`
}

func (DispatchOutcomeLog) TableName() string {
	return "dispatch_outcomes"
}
