package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Order is one round of items within a session. The ux_orders_pending_session
// partial unique index allows a single pending order per session.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	SessionID   uuid.UUID         `gorm:"column:session_id;type:uuid;not null;index"`
	Status      enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	SentAt      *time.Time        `gorm:"column:sent_at"`
	ReadyAt     *time.Time        `gorm:"column:ready_at"`
	ServedAt    *time.Time        `gorm:"column:served_at"`
	CancelledAt *time.Time        `gorm:"column:cancelled_at"`
	Lines       []OrderLine       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// TotalCents sums quantity times the frozen unit price of every line.
func (o Order) TotalCents() int {
	total := 0
	for _, line := range o.Lines {
		total += line.TotalCents()
	}
	return total
}

// AllLinesReady reports whether the order has lines and every one is ready.
func (o Order) AllLinesReady() bool {
	if len(o.Lines) == 0 {
		return false
	}
	for _, line := range o.Lines {
		if line.PrepStatus != enums.LinePrepReady {
			return false
		}
	}
	return true
}
