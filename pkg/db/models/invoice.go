package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Invoice is the immutable billing snapshot of an order. ux_invoices_order
// guarantees one invoice per order regardless of how many writers race.
type Invoice struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Number        string          `gorm:"column:number;not null;uniqueIndex:ux_invoices_number"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_invoices_order"`
	SessionID     uuid.UUID       `gorm:"column:session_id;type:uuid;not null;index"`
	TableID       uuid.UUID       `gorm:"column:table_id;type:uuid;not null"`
	Lines         []InvoiceLine   `gorm:"column:lines;type:jsonb;serializer:json;not null"`
	SubtotalCents int             `gorm:"column:subtotal_cents;not null"`
	TaxCents      int             `gorm:"column:tax_cents;not null;default:0"`
	TotalCents    int             `gorm:"column:total_cents;not null"`
	VATRate       string          `gorm:"column:vat_rate;not null;default:'0'"`
	Currency      string          `gorm:"column:currency;not null"`
	Payment       *InvoicePayment `gorm:"column:payment;type:jsonb;serializer:json"`
	GeneratedAt   time.Time       `gorm:"column:generated_at;not null;index"`
}

func (i *Invoice) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// InvoiceLine freezes one order line at billing time.
type InvoiceLine struct {
	ProductID      uuid.UUID `json:"productId"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int       `json:"unitPriceCents"`
	TotalCents     int       `json:"totalCents"`
}

// InvoicePayment freezes the most recent payment at billing time.
type InvoicePayment struct {
	PaymentID   uuid.UUID           `json:"paymentId"`
	Method      enums.PaymentMethod `json:"method"`
	AmountCents int                 `json:"amountCents"`
	Status      enums.PaymentStatus `json:"status"`
	ValidatedAt *time.Time          `json:"validatedAt,omitempty"`
}
