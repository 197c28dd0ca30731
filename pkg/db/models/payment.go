package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Payment is one payment attempt against a sent order. Pending codes are
// unique through the ux_payments_pending_code partial index.
type Payment struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	SessionID      uuid.UUID           `gorm:"column:session_id;type:uuid;not null;index"`
	Method         enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	AmountCents    int                 `gorm:"column:amount_cents;not null"`
	ValidationCode string              `gorm:"column:validation_code;not null;index"`
	Status         enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	ValidatedBy    *uuid.UUID          `gorm:"column:validated_by;type:uuid"`
	ValidatedAt    *time.Time          `gorm:"column:validated_at"`
	ArchivedAt     *time.Time          `gorm:"column:archived_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
