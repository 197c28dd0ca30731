package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
)

const (
	uxPendingCode      = "ux_payments_pending_code"
	defaultCodeAttempt = 5
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type invoiceGenerator interface {
	Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error)
}

type sessionLocker interface {
	LockOpen(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Session, error)
}

type closeEvaluator interface {
	Evaluate(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// ValidationResult is returned by a winning validation. The payment is
// authoritative even when InvoicePending reports that archival failed.
type ValidationResult struct {
	Payment        *models.Payment `json:"payment"`
	Invoice        *models.Invoice `json:"invoice,omitempty"`
	InvoicePending bool            `json:"invoice_pending"`
	SessionClosed  bool            `json:"session_closed"`
}

// Staff identifies the authenticated staff member acting on a payment.
type Staff struct {
	ID   uuid.UUID
	Role enums.StaffRole
}

// Service creates payments and validates each exactly once.
type Service interface {
	CreatePayment(ctx context.Context, sessionID, orderID uuid.UUID, method enums.PaymentMethod) (*models.Payment, error)
	ValidateByCode(ctx context.Context, code string, staff *Staff) (*ValidationResult, error)
	ValidateByID(ctx context.Context, paymentID uuid.UUID, staff *Staff) (*ValidationResult, error)
	Archive(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	ListSessionPayments(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error)
}

type ServiceParams struct {
	Repo         Repository
	Sessions     sessionLocker
	Invoices     invoiceGenerator
	AutoClose    closeEvaluator
	Tx           txRunner
	Outbox       outboxPublisher
	Codes        *CodeGenerator
	CodeAttempts int
	Metrics      *metrics.LifecycleMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

type service struct {
	repo         Repository
	sessions     sessionLocker
	invoices     invoiceGenerator
	autoClose    closeEvaluator
	tx           txRunner
	outbox       outboxPublisher
	codes        *CodeGenerator
	codeAttempts int
	metrics      *metrics.LifecycleMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("payments repository required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session locker required")
	case params.Invoices == nil:
		return nil, fmt.Errorf("invoice generator required")
	case params.AutoClose == nil:
		return nil, fmt.Errorf("close evaluator required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	codes := params.Codes
	if codes == nil {
		codes = NewCodeGenerator(0)
	}
	attempts := params.CodeAttempts
	if attempts <= 0 {
		attempts = defaultCodeAttempt
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:         params.Repo,
		sessions:     params.Sessions,
		invoices:     params.Invoices,
		autoClose:    params.AutoClose,
		tx:           params.Tx,
		outbox:       params.Outbox,
		codes:        codes,
		codeAttempts: attempts,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

func paymentNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
}

// CreatePayment opens a pending payment for the order's outstanding balance.
// The session must still be open. A code that collides with another pending payment is redrawn.
func (s *service) CreatePayment(ctx context.Context, sessionID, orderID uuid.UUID, method enums.PaymentMethod) (*models.Payment, error) {
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported payment method %q", method))
	}

	for attempt := 1; ; attempt++ {
		code, err := s.codes.Next()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate validation code")
		}
		payment, err := s.createWithCode(ctx, sessionID, orderID, method, code)
		if err == nil {
			if s.logg != nil {
				logCtx := s.logg.WithOrderID(ctx, orderID.String())
				s.logg.Info(s.logg.WithField(logCtx, "payment_id", payment.ID.String()), "payment created")
			}
			return payment, nil
		}
		if !db.IsUniqueViolation(err, uxPendingCode) {
			if pkgerrors.As(err) != nil {
				return nil, err
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
		}
		if attempt >= s.codeAttempts {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "could not allocate a unique validation code")
		}
	}
}

func (s *service) createWithCode(ctx context.Context, sessionID, orderID uuid.UUID, method enums.PaymentMethod, code string) (*models.Payment, error) {
	var created *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.sessions.LockOpen(ctx, tx, sessionID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order == nil || order.SessionID != sessionID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !order.Status.IsPayable() {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has not been sent to the kitchen").
				WithReason(pkgerrors.ReasonOrderNotSent).
				WithDetails(map[string]any{"order_status": order.Status})
		}

		committed, err := repo.SumByOrder(ctx, order.ID, []enums.PaymentStatus{
			enums.PaymentStatusPending,
			enums.PaymentStatusValidated,
			enums.PaymentStatusArchived,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum order payments")
		}
		amount := order.TotalCents() - committed
		if amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is already fully covered").
				WithReason(pkgerrors.ReasonOrderFullyPaid)
		}

		payment := &models.Payment{
			OrderID:        order.ID,
			SessionID:      order.SessionID,
			Method:         method,
			AmountCents:    amount,
			ValidationCode: code,
			Status:         enums.PaymentStatusPending,
		}
		if err := repo.Create(ctx, payment); err != nil {
			return err
		}
		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentCreated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentCreatedEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				AmountCents: int64(payment.AmountCents),
				Method:      payment.Method,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment created")
		}
		created = payment
		return nil
	})
	return created, err
}

// ValidateByCode is the cashier path. A code that matched a payment which is
// no longer pending reports AlreadyValidated rather than InvalidCode.
func (s *service) ValidateByCode(ctx context.Context, code string, staff *Staff) (*ValidationResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation code is required")
	}
	payment, err := s.validate(ctx, staff, func(repo Repository) (*models.Payment, error) {
		pending, err := repo.FindPendingByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment by code")
		}
		if pending != nil {
			return pending, nil
		}
		used, err := repo.FindLatestByCode(ctx, code)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment by code")
		}
		if used != nil {
			return nil, alreadyValidated()
		}
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "validation code not recognised").
			WithReason(pkgerrors.ReasonInvalidCode)
	}, alreadyValidated)
	if err != nil {
		return nil, err
	}
	return s.afterValidation(ctx, payment, "code"), nil
}

// ValidateByID is the staff path that skips the code lookup.
func (s *service) ValidateByID(ctx context.Context, paymentID uuid.UUID, staff *Staff) (*ValidationResult, error) {
	payment, err := s.validate(ctx, staff, func(repo Repository) (*models.Payment, error) {
		found, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if found == nil {
			return nil, paymentNotFound()
		}
		if found.Status != enums.PaymentStatusPending {
			return nil, alreadyPaid()
		}
		return found, nil
	}, alreadyPaid)
	if err != nil {
		return nil, err
	}
	return s.afterValidation(ctx, payment, "id"), nil
}

func alreadyValidated() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already validated").
		WithReason(pkgerrors.ReasonAlreadyValidated)
}

func alreadyPaid() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already paid").
		WithReason(pkgerrors.ReasonAlreadyPaid)
}

// validate resolves the payment and flips it with a compare-and-set. The
// loser of a concurrent race gets lost().
func (s *service) validate(ctx context.Context, staff *Staff, resolve func(Repository) (*models.Payment, error), lost func() error) (*models.Payment, error) {
	var validated *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := resolve(repo)
		if err != nil {
			return err
		}
		var validatedBy *uuid.UUID
		if staff != nil {
			id := staff.ID
			validatedBy = &id
		}
		at := s.now()
		won, err := repo.MarkValidated(ctx, payment.ID, validatedBy, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "validate payment")
		}
		if !won {
			return lost()
		}
		payment.Status = enums.PaymentStatusValidated
		payment.ValidatedAt = &at
		payment.ValidatedBy = validatedBy

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentValidated,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentValidatedEvent{
				PaymentID:   payment.ID,
				OrderID:     payment.OrderID,
				AmountCents: int64(payment.AmountCents),
				ValidatedBy: validatedBy,
				ValidatedAt: at,
			},
		}
		if staff != nil {
			event.Actor = &outbox.ActorRef{UserID: validatedBy, Role: staff.Role}
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment validated")
		}
		validated = payment
		return nil
	})
	return validated, err
}

// afterValidation runs archival and the close policy. Neither can undo the
// validation, so failures are logged and surfaced as flags only.
func (s *service) afterValidation(ctx context.Context, payment *models.Payment, path string) *ValidationResult {
	s.metrics.PaymentValidated(path)
	result := &ValidationResult{Payment: payment}

	var logCtx context.Context
	if s.logg != nil {
		logCtx = s.logg.WithSessionID(ctx, payment.SessionID.String())
		logCtx = s.logg.WithOrderID(logCtx, payment.OrderID.String())
		logCtx = s.logg.WithField(logCtx, "payment_id", payment.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "path", path), "payment validated")
	}

	invoice, _, err := s.invoices.Generate(ctx, payment.OrderID)
	if err != nil {
		result.InvoicePending = true
		if s.logg != nil {
			s.logg.Error(logCtx, "invoice generation failed after validation", err)
		}
	} else {
		result.Invoice = invoice
	}

	closed, err := s.autoClose.Evaluate(ctx, payment.SessionID)
	if err != nil {
		if s.logg != nil {
			s.logg.Error(logCtx, "auto-close evaluation failed after validation", err)
		}
	}
	result.SessionClosed = closed
	return result
}

func (s *service) Archive(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var archived *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payment, err := repo.FindByID(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if payment == nil {
			return paymentNotFound()
		}
		at := s.now()
		ok, err := repo.MarkArchived(ctx, payment.ID, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "archive payment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only validated payments can be archived").
				WithReason(pkgerrors.ReasonPaymentNotValid).
				WithDetails(map[string]any{"status": payment.Status})
		}
		payment.Status = enums.PaymentStatusArchived
		payment.ArchivedAt = &at

		event := outbox.DomainEvent{
			EventType:     enums.EventPaymentArchived,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentArchivedEvent{
				PaymentID:  payment.ID,
				OrderID:    payment.OrderID,
				ArchivedAt: at,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment archived")
		}
		archived = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

func (s *service) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		return nil, paymentNotFound()
	}
	return payment, nil
}

func (s *service) ListSessionPayments(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error) {
	payments, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}
