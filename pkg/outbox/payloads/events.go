package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// SessionOpenedEvent signals a diner opened a table session.
type SessionOpenedEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	TableID   uuid.UUID `json:"table_id"`
	ClientID  uuid.UUID `json:"client_id"`
	OpenedAt  time.Time `json:"opened_at"`
}

// SessionClosedEvent is emitted once per session, manual or automatic.
type SessionClosedEvent struct {
	SessionID uuid.UUID                `json:"session_id"`
	TableID   uuid.UUID                `json:"table_id"`
	Reason    enums.SessionCloseReason `json:"reason"`
	ClosedAt  time.Time                `json:"closed_at"`
}

// OrderSentLine is a single kitchen ticket row.
type OrderSentLine struct {
	LineID      uuid.UUID `json:"line_id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int       `json:"quantity"`
}

// OrderSentEvent hands the kitchen a new ticket.
type OrderSentEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	SessionID  uuid.UUID       `json:"session_id"`
	TotalCents int64           `json:"total_cents"`
	Lines      []OrderSentLine `json:"lines"`
	SentAt     time.Time       `json:"sent_at"`
}

// OrderStatusChangedEvent tracks order lifecycle moves after the kitchen hand-off.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	SessionID uuid.UUID         `json:"session_id"`
	From      enums.OrderStatus `json:"from"`
	To        enums.OrderStatus `json:"to"`
	ChangedAt time.Time         `json:"changed_at"`
}

// LinePrepStatusChangedEvent is emitted for each kitchen line update.
type LinePrepStatusChangedEvent struct {
	LineID    uuid.UUID            `json:"line_id"`
	OrderID   uuid.UUID            `json:"order_id"`
	From      enums.LinePrepStatus `json:"from"`
	To        enums.LinePrepStatus `json:"to"`
	ChangedAt time.Time            `json:"changed_at"`
}

// PaymentCreatedEvent announces a pending payment awaiting its code.
type PaymentCreatedEvent struct {
	PaymentID   uuid.UUID           `json:"payment_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	AmountCents int64               `json:"amount_cents"`
	Method      enums.PaymentMethod `json:"method"`
}

// PaymentValidatedEvent is emitted by the winning validation only.
type PaymentValidatedEvent struct {
	PaymentID   uuid.UUID  `json:"payment_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	AmountCents int64      `json:"amount_cents"`
	ValidatedBy *uuid.UUID `json:"validated_by,omitempty"`
	ValidatedAt time.Time  `json:"validated_at"`
}

// PaymentArchivedEvent closes the payment bookkeeping loop.
type PaymentArchivedEvent struct {
	PaymentID  uuid.UUID `json:"payment_id"`
	OrderID    uuid.UUID `json:"order_id"`
	ArchivedAt time.Time `json:"archived_at"`
}

// InvoiceGeneratedEvent carries the immutable invoice header.
type InvoiceGeneratedEvent struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Number     string    `json:"number"`
	TotalCents int64     `json:"total_cents"`
	IssuedAt   time.Time `json:"issued_at"`
}
