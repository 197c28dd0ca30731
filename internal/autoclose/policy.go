package autoclose

import (
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Blocking reasons reported by Decide.
const (
	ReasonSessionClosed   = "session_closed"
	ReasonNoOrders        = "no_orders"
	ReasonCartNotSent     = "cart_not_sent"
	ReasonOrdersInKitchen = "orders_in_kitchen"
	ReasonPaymentPending  = "payment_pending"
	ReasonBalanceDue      = "balance_due"
	ReasonSettled         = "settled"
)

// Decision is the outcome of the close policy for one session.
type Decision struct {
	CanClose      bool   `json:"can_close"`
	Reason        string `json:"reason"`
	BillableCents int    `json:"billable_cents"`
	PaidCents     int    `json:"paid_cents"`
}

// Decide applies the close policy to a session snapshot. Ready orders count
// as delivered. Empty pending orders are leftovers of a sent round and do
// not block.
func Decide(orders []models.Order, payments []models.Payment) Decision {
	var d Decision
	hasOrders := false
	for _, order := range orders {
		switch order.Status {
		case enums.OrderStatusPending:
			if len(order.Lines) > 0 {
				d.Reason = ReasonCartNotSent
				return d
			}
			continue
		case enums.OrderStatusSent, enums.OrderStatusInPrep:
			d.Reason = ReasonOrdersInKitchen
			return d
		case enums.OrderStatusReady, enums.OrderStatusServed:
			d.BillableCents += order.TotalCents()
		}
		hasOrders = true
	}
	if !hasOrders {
		d.Reason = ReasonNoOrders
		return d
	}

	for _, payment := range payments {
		switch payment.Status {
		case enums.PaymentStatusPending:
			d.Reason = ReasonPaymentPending
			return d
		case enums.PaymentStatusValidated, enums.PaymentStatusArchived:
			d.PaidCents += payment.AmountCents
		}
	}
	if d.PaidCents < d.BillableCents {
		d.Reason = ReasonBalanceDue
		return d
	}
	d.CanClose = true
	d.Reason = ReasonSettled
	return d
}
