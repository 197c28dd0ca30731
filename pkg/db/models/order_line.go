package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// OrderLine is one product quantity within an order. UnitPriceCents and
// ProductName are snapshotted from the catalog when the line is first added.
type OrderLine struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID            `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_product"`
	ProductID      uuid.UUID            `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_order_lines_order_product"`
	ProductName    string               `gorm:"column:product_name;not null"`
	Quantity       int                  `gorm:"column:quantity;not null"`
	UnitPriceCents int                  `gorm:"column:unit_price_cents;not null"`
	PrepStatus     enums.LinePrepStatus `gorm:"column:prep_status;type:line_prep_status;not null;default:'queued'"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}

// TotalCents is the line's contribution to the order total.
func (l OrderLine) TotalCents() int {
	return l.Quantity * l.UnitPriceCents
}
