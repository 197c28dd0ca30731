package invoices

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tableside-backend/pkg/pagination"
)

const (
	uxInvoicePerOrder = "ux_invoices_order"
	uxInvoiceNumber   = "ux_invoices_number"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type sessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Service archives immutable invoice snapshots, one per order.
type Service interface {
	Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error)
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	GetByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Search(ctx context.Context, filters SearchFilters, params pagination.Params) (*pagination.Page[models.Invoice], error)
	ListOrdersMissingInvoice(ctx context.Context, settledBefore time.Time, limit int) ([]uuid.UUID, error)
}

type ServiceParams struct {
	Repo     Repository
	Orders   orderReader
	Sessions sessionReader
	Tx       txRunner
	Outbox   outboxPublisher
	Numbers  *NumberGenerator
	VATRate  string
	Currency string
	Metrics  *metrics.LifecycleMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

type service struct {
	repo     Repository
	orders   orderReader
	sessions sessionReader
	tx       txRunner
	outbox   outboxPublisher
	numbers  *NumberGenerator
	vatRate  decimal.Decimal
	currency string
	metrics  *metrics.LifecycleMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("invoice repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order reader required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session reader required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}

	rate := decimal.Zero
	if raw := strings.TrimSpace(params.VATRate); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid vat rate %q: %w", raw, err)
		}
		if parsed.IsNegative() || parsed.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("vat rate %q must be within [0, 1)", raw)
		}
		rate = parsed
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "EUR"
	}
	numbers := params.Numbers
	if numbers == nil {
		numbers = NewNumberGenerator("")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		sessions: params.Sessions,
		tx:       params.Tx,
		outbox:   params.Outbox,
		numbers:  numbers,
		vatRate:  rate,
		currency: currency,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Generate returns the order's invoice, creating it on first call. The bool
// reports whether this call created it. Concurrent callers converge on the
// row that won ux_invoices_order.
func (s *service) Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error) {
	invoice, created, err := s.generate(ctx, orderID)
	switch {
	case err != nil:
		s.metrics.InvoiceOutcome("failed")
	case created:
		s.metrics.InvoiceOutcome("created")
	default:
		s.metrics.InvoiceOutcome("existing")
	}
	return invoice, created, err
}

func (s *service) generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error) {
	existing, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if existing != nil {
		return existing, false, nil
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status == enums.OrderStatusPending {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order has not been sent").
			WithReason(pkgerrors.ReasonOrderNotSent)
	}
	session, err := s.sessions.GetSession(ctx, order.SessionID)
	if err != nil {
		return nil, false, err
	}
	payment, err := s.repo.LatestPayment(ctx, order.ID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment snapshot")
	}

	issuedAt := s.now()
	invoice := s.snapshot(order, session, payment, issuedAt)
	if invoice.Number, err = s.numbers.Next(order.ID, issuedAt); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue invoice number")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, invoice); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventInvoiceGenerated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Data: payloads.InvoiceGeneratedEvent{
				InvoiceID:  invoice.ID,
				OrderID:    invoice.OrderID,
				Number:     invoice.Number,
				TotalCents: int64(invoice.TotalCents),
				IssuedAt:   invoice.GeneratedAt,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit invoice generated")
		}
		return nil
	})
	if err == nil {
		if s.logg != nil {
			logCtx := s.logg.WithOrderID(ctx, order.ID.String())
			s.logg.Info(s.logg.WithField(logCtx, "invoice_number", invoice.Number), "invoice generated")
		}
		return invoice, true, nil
	}

	if db.IsUniqueViolation(err, uxInvoicePerOrder) {
		winner, findErr := s.repo.FindByOrder(ctx, orderID)
		if findErr != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load concurrent invoice")
		}
		if winner != nil {
			return winner, false, nil
		}
	}
	if db.IsUniqueViolation(err, uxInvoiceNumber) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "invoice number collision")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return nil, false, err
	}
	return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store invoice")
}

// snapshot freezes the order lines and splits the VAT-inclusive total into
// net and tax at the configured rate.
func (s *service) snapshot(order *models.Order, session *models.Session, payment *models.Payment, issuedAt time.Time) *models.Invoice {
	lines := make([]models.InvoiceLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, models.InvoiceLine{
			ProductID:      line.ProductID,
			Name:           line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			TotalCents:     line.TotalCents(),
		})
	}

	total := order.TotalCents()
	net := decimal.NewFromInt(int64(total)).
		Div(decimal.NewFromInt(1).Add(s.vatRate)).
		Round(0).
		IntPart()

	invoice := &models.Invoice{
		OrderID:       order.ID,
		SessionID:     order.SessionID,
		TableID:       session.TableID,
		Lines:         lines,
		SubtotalCents: int(net),
		TaxCents:      total - int(net),
		TotalCents:    total,
		VATRate:       s.vatRate.String(),
		Currency:      s.currency,
		GeneratedAt:   issuedAt,
	}
	if payment != nil {
		invoice.Payment = &models.InvoicePayment{
			PaymentID:   payment.ID,
			Method:      payment.Method,
			AmountCents: payment.AmountCents,
			Status:      payment.Status,
			ValidatedAt: payment.ValidatedAt,
		}
	}
	return invoice
}

func (s *service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice number is required")
	}
	invoice, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (s *service) Search(ctx context.Context, filters SearchFilters, params pagination.Params) (*pagination.Page[models.Invoice], error) {
	if filters.From != nil && filters.To != nil && !filters.From.Before(*filters.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if filters.MinTotalCents != nil && *filters.MinTotalCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min_total must not be negative")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := s.repo.Search(ctx, filters, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "search invoices")
	}

	page := &pagination.Page[models.Invoice]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.GeneratedAt, ID: last.ID})
	}
	if page.Items == nil {
		page.Items = []models.Invoice{}
	}
	return page, nil
}

func (s *service) ListOrdersMissingInvoice(ctx context.Context, settledBefore time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.repo.ListOrdersMissingInvoice(ctx, settledBefore, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders missing invoice")
	}
	return ids, nil
}
