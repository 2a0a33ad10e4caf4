package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReconciliationOpen     = "open"
	ReconciliationResolved = "resolved"
)

// PaymentReconciliation flags a captured payment whose WooCommerce order
// could not be moved to paid and needs a manual follow-up.
type PaymentReconciliation struct {
	ID              uuid.UUID  `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID         int64      `gorm:"column:wc_order_id;not null"`
	PaymentIntentID string     `gorm:"column:payment_intent_id;not null"`
	AmountMinor     int64      `gorm:"column:amount_minor;not null;default:0"`
	Currency        string     `gorm:"column:currency;not null"`
	Reason          string     `gorm:"column:reason;not null"`
	Status          string     `gorm:"column:status;not null;default:'open'"`
	ResolvedBy      *string    `gorm:"column:resolved_by"`
	ResolvedAt      *time.Time `gorm:"column:resolved_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentReconciliation) TableName() string {
	return "payment_reconciliations"
}

func (p *PaymentReconciliation) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = ReconciliationOpen
	}
	return nil
}
