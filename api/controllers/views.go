package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/kitchen"
	"github.com/angelmondragon/tableside-backend/internal/payments"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	"github.com/angelmondragon/tableside-backend/pkg/pagination"
)

type sessionResponse struct {
	ID          uuid.UUID                 `json:"id"`
	TableID     uuid.UUID                 `json:"table_id"`
	ClientID    uuid.UUID                 `json:"client_id"`
	Status      enums.SessionStatus       `json:"status"`
	CloseReason *enums.SessionCloseReason `json:"close_reason,omitempty"`
	OpenedAt    time.Time                 `json:"opened_at"`
	ClosedAt    *time.Time                `json:"closed_at,omitempty"`
}

func newSessionResponse(s *models.Session) sessionResponse {
	return sessionResponse{
		ID:          s.ID,
		TableID:     s.TableID,
		ClientID:    s.ClientID,
		Status:      s.Status,
		CloseReason: s.CloseReason,
		OpenedAt:    s.OpenedAt,
		ClosedAt:    s.ClosedAt,
	}
}

type openSessionResponse struct {
	Session sessionResponse `json:"session"`
	Joined  bool            `json:"joined"`
}

type sessionDetailResponse struct {
	Session     sessionResponse     `json:"session"`
	Orders      []orderResponse     `json:"orders"`
	TotalCents  int                 `json:"total_cents"`
	CloseStatus *autoclose.Decision `json:"close_status,omitempty"`
}

type orderLineResponse struct {
	ID             uuid.UUID            `json:"id"`
	ProductID      uuid.UUID            `json:"product_id"`
	ProductName    string               `json:"product_name"`
	Quantity       int                  `json:"quantity"`
	UnitPriceCents int                  `json:"unit_price_cents"`
	TotalCents     int                  `json:"total_cents"`
	PrepStatus     enums.LinePrepStatus `json:"prep_status"`
}

type orderResponse struct {
	ID          uuid.UUID           `json:"id"`
	SessionID   uuid.UUID           `json:"session_id"`
	Status      enums.OrderStatus   `json:"status"`
	Lines       []orderLineResponse `json:"lines"`
	TotalCents  int                 `json:"total_cents"`
	SentAt      *time.Time          `json:"sent_at,omitempty"`
	ReadyAt     *time.Time          `json:"ready_at,omitempty"`
	ServedAt    *time.Time          `json:"served_at,omitempty"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newOrderResponse(o *models.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, orderLineResponse{
			ID:             line.ID,
			ProductID:      line.ProductID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents(),
			PrepStatus:     line.PrepStatus,
		})
	}
	return orderResponse{
		ID:          o.ID,
		SessionID:   o.SessionID,
		Status:      o.Status,
		Lines:       lines,
		TotalCents:  o.TotalCents(),
		SentAt:      o.SentAt,
		ReadyAt:     o.ReadyAt,
		ServedAt:    o.ServedAt,
		CancelledAt: o.CancelledAt,
		CreatedAt:   o.CreatedAt,
	}
}

type lineUpdateResponse struct {
	LineID      uuid.UUID            `json:"line_id"`
	OrderID     uuid.UUID            `json:"order_id"`
	PrepStatus  enums.LinePrepStatus `json:"prep_status"`
	OrderStatus enums.OrderStatus    `json:"order_status"`
	Changed     bool                 `json:"changed"`
}

func newLineUpdateResponse(u *kitchen.LineUpdate) lineUpdateResponse {
	return lineUpdateResponse{
		LineID:      u.Line.ID,
		OrderID:     u.Line.OrderID,
		PrepStatus:  u.Line.PrepStatus,
		OrderStatus: u.OrderStatus,
		Changed:     u.Changed,
	}
}

type queueItemResponse struct {
	LineID      uuid.UUID            `json:"line_id"`
	OrderID     uuid.UUID            `json:"order_id"`
	SessionID   uuid.UUID            `json:"session_id"`
	TableCode   string               `json:"table_code"`
	ProductName string               `json:"product_name"`
	Quantity    int                  `json:"quantity"`
	PrepStatus  enums.LinePrepStatus `json:"prep_status"`
	SentAt      *time.Time           `json:"sent_at,omitempty"`
}

func newQueueResponse(items []kitchen.QueueItem) []queueItemResponse {
	out := make([]queueItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, queueItemResponse{
			LineID:      item.LineID,
			OrderID:     item.OrderID,
			SessionID:   item.SessionID,
			TableCode:   item.TableCode,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			PrepStatus:  item.PrepStatus,
			SentAt:      item.SentAt,
		})
	}
	return out
}

type paymentResponse struct {
	ID             uuid.UUID           `json:"id"`
	OrderID        uuid.UUID           `json:"order_id"`
	SessionID      uuid.UUID           `json:"session_id"`
	Method         enums.PaymentMethod `json:"method"`
	AmountCents    int                 `json:"amount_cents"`
	ValidationCode string              `json:"validation_code,omitempty"`
	Status         enums.PaymentStatus `json:"status"`
	ValidatedBy    *uuid.UUID          `json:"validated_by,omitempty"`
	ValidatedAt    *time.Time          `json:"validated_at,omitempty"`
	ArchivedAt     *time.Time          `json:"archived_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// newPaymentResponse hides the code once it can no longer be redeemed.
func newPaymentResponse(p *models.Payment) paymentResponse {
	resp := paymentResponse{
		ID:          p.ID,
		OrderID:     p.OrderID,
		SessionID:   p.SessionID,
		Method:      p.Method,
		AmountCents: p.AmountCents,
		Status:      p.Status,
		ValidatedBy: p.ValidatedBy,
		ValidatedAt: p.ValidatedAt,
		ArchivedAt:  p.ArchivedAt,
		CreatedAt:   p.CreatedAt,
	}
	if p.Status == enums.PaymentStatusPending {
		resp.ValidationCode = p.ValidationCode
	}
	return resp
}

type validationResponse struct {
	Payment        paymentResponse  `json:"payment"`
	Invoice        *invoiceResponse `json:"invoice,omitempty"`
	InvoicePending bool             `json:"invoice_pending"`
	SessionClosed  bool             `json:"session_closed"`
}

func newValidationResponse(r *payments.ValidationResult) validationResponse {
	resp := validationResponse{
		Payment:        newPaymentResponse(r.Payment),
		InvoicePending: r.InvoicePending,
		SessionClosed:  r.SessionClosed,
	}
	if r.Invoice != nil {
		inv := newInvoiceResponse(r.Invoice)
		resp.Invoice = &inv
	}
	return resp
}

type invoiceResponse struct {
	ID            uuid.UUID              `json:"id"`
	Number        string                 `json:"number"`
	OrderID       uuid.UUID              `json:"order_id"`
	SessionID     uuid.UUID              `json:"session_id"`
	TableID       uuid.UUID              `json:"table_id"`
	Lines         []models.InvoiceLine   `json:"lines"`
	SubtotalCents int                    `json:"subtotal_cents"`
	TaxCents      int                    `json:"tax_cents"`
	TotalCents    int                    `json:"total_cents"`
	Total         string                 `json:"total"`
	VATRate       string                 `json:"vat_rate"`
	Currency      string                 `json:"currency"`
	Payment       *models.InvoicePayment `json:"payment,omitempty"`
	GeneratedAt   time.Time              `json:"generated_at"`
}

func newInvoiceResponse(inv *models.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:            inv.ID,
		Number:        inv.Number,
		OrderID:       inv.OrderID,
		SessionID:     inv.SessionID,
		TableID:       inv.TableID,
		Lines:         inv.Lines,
		SubtotalCents: inv.SubtotalCents,
		TaxCents:      inv.TaxCents,
		TotalCents:    inv.TotalCents,
		Total:         decimal.New(int64(inv.TotalCents), -2).StringFixed(2),
		VATRate:       inv.VATRate,
		Currency:      inv.Currency,
		Payment:       inv.Payment,
		GeneratedAt:   inv.GeneratedAt,
	}
}

type invoicePageResponse struct {
	Items      []invoiceResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func newInvoicePageResponse(page *pagination.Page[models.Invoice]) invoicePageResponse {
	items := make([]invoiceResponse, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, newInvoiceResponse(&page.Items[i]))
	}
	return invoicePageResponse{Items: items, NextCursor: page.NextCursor}
}
