package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/internal/autoclose"
	"github.com/angelmondragon/tableside-backend/internal/catalog"
	"github.com/angelmondragon/tableside-backend/internal/invoices"
	"github.com/angelmondragon/tableside-backend/internal/kitchen"
	"github.com/angelmondragon/tableside-backend/internal/orders"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/internal/testdb"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
)

type stack struct {
	conn     *gorm.DB
	sessions sessions.Service
	orders   orders.Service
	kitchen  kitchen.Service
	payments Service
}

func newStack(t *testing.T, gen invoiceGenerator) stack {
	t.Helper()
	conn := testdb.New(t)
	client := testdb.Client(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	now := func() time.Time { return time.Date(2026, 10, 2, 13, 0, 0, 0, time.UTC) }
	catalogRepo := catalog.NewRepository(conn)

	sessionSvc, err := sessions.NewService(sessions.ServiceParams{
		Repo: sessions.NewRepository(conn), Tables: catalogRepo, Tx: client, Outbox: publisher, Now: now,
	})
	require.NoError(t, err)
	evaluator, err := autoclose.NewEvaluator(autoclose.NewRepository(conn), sessionSvc, nil)
	require.NoError(t, err)
	kitchenSvc, err := kitchen.NewService(kitchen.ServiceParams{Repo: kitchen.NewRepository(conn), Tx: client, Outbox: publisher, Now: now})
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo: orderRepo, Catalog: catalogRepo, Sessions: sessionSvc, Kitchen: kitchenSvc,
		AutoClose: evaluator, Tx: client, Outbox: publisher, Now: now,
	})
	require.NoError(t, err)
	if gen == nil {
		gen, err = invoices.NewService(invoices.ServiceParams{
			Repo: invoices.NewRepository(conn), Orders: orderRepo, Sessions: sessionSvc,
			Tx: client, Outbox: publisher, VATRate: "0.10", Now: now,
		})
		require.NoError(t, err)
	}
	paymentSvc, err := NewService(ServiceParams{
		Repo: NewRepository(conn), Sessions: sessionSvc, Invoices: gen, AutoClose: evaluator,
		Tx: client, Outbox: publisher, Now: now,
	})
	require.NoError(t, err)
	return stack{conn: conn, sessions: sessionSvc, orders: orderSvc, kitchen: kitchenSvc, payments: paymentSvc}
}

// sentMeal runs the diner flow: 2x1500 and 1x3000 sent to the kitchen.
func (s stack) sentMeal(t *testing.T) (*models.Session, *models.Order) {
	t.Helper()
	ctx := context.Background()
	table := testdb.SeedTable(t, s.conn, "T1")
	p1 := testdb.SeedProduct(t, s.conn, "P1", 1500, 10)
	p2 := testdb.SeedProduct(t, s.conn, "P2", 3000, 10)

	session, err := s.sessions.OpenSession(ctx, table.ID, "Amina")
	require.NoError(t, err)
	_, err = s.orders.AddToCart(ctx, session.ID, p1.ID, 2)
	require.NoError(t, err)
	_, err = s.orders.AddToCart(ctx, session.ID, p2.ID, 1)
	require.NoError(t, err)
	order, err := s.orders.SendSessionOrder(ctx, session.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 6000, order.TotalCents())
	require.Equal(t, 8, testdb.ProductStock(t, s.conn, p1.ID))
	require.Equal(t, 9, testdb.ProductStock(t, s.conn, p2.ID))
	return session, order
}

func (s stack) readyAll(t *testing.T, order *models.Order) {
	t.Helper()
	for i, line := range order.Lines {
		update, err := s.kitchen.MarkReady(context.Background(), line.ID)
		require.NoError(t, err)
		if i < len(order.Lines)-1 {
			require.NotEqual(t, enums.OrderStatusReady, update.OrderStatus)
		} else {
			require.Equal(t, enums.OrderStatusReady, update.OrderStatus)
		}
	}
}

func TestValidateByCodeInvoicesAndClosesSession(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	session, order := s.sentMeal(t)
	s.readyAll(t, order)

	payment, err := s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodCard)
	require.NoError(t, err)
	require.Equal(t, 6000, payment.AmountCents)
	require.Equal(t, enums.PaymentStatusPending, payment.Status)
	require.Len(t, payment.ValidationCode, 6)

	staff := &Staff{ID: uuid.New(), Role: enums.StaffRoleCashier}
	result, err := s.payments.ValidateByCode(ctx, strings.ToLower(payment.ValidationCode), staff)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusValidated, result.Payment.Status)
	require.Equal(t, staff.ID, *result.Payment.ValidatedBy)
	require.False(t, result.InvoicePending)
	require.NotNil(t, result.Invoice)
	require.Equal(t, 6000, result.Invoice.TotalCents)
	require.True(t, result.SessionClosed)

	closed, err := s.sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SessionStatusClosed, closed.Status)

	_, err = s.payments.ValidateByCode(ctx, payment.ValidationCode, staff)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyValidated))
	var validated int64
	require.NoError(t, s.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventPaymentValidated).Count(&validated).Error)
	require.EqualValues(t, 1, validated)
}

func TestConcurrentValidateByCodeExactlyOneWins(t *testing.T) {
	s := newStack(t, nil)
	session, order := s.sentMeal(t)
	payment, err := s.payments.CreatePayment(context.Background(), session.ID, order.ID, enums.PaymentMethodCash)
	require.NoError(t, err)

	const callers = 2
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.payments.ValidateByCode(context.Background(), payment.ValidationCode, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyValidated), "unexpected error %v", err)
	}
	require.Equal(t, 1, wins)
}

func TestValidateByCodeRejectsUnknownCode(t *testing.T) {
	s := newStack(t, nil)
	_, err := s.payments.ValidateByCode(context.Background(), "ZZZZZZ", nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidCode))
	require.False(t, pkgerrors.As(err).Retryable())

	_, err = s.payments.ValidateByCode(context.Background(), "  ", nil)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestValidateByIDAndArchive(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	session, order := s.sentMeal(t)
	payment, err := s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodMobile)
	require.NoError(t, err)

	_, err = s.payments.Archive(ctx, payment.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonPaymentNotValid))

	result, err := s.payments.ValidateByID(ctx, payment.ID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusValidated, result.Payment.Status)
	require.False(t, result.SessionClosed, "order still in the kitchen")

	_, err = s.payments.ValidateByID(ctx, payment.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyPaid))

	archived, err := s.payments.Archive(ctx, payment.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)

	_, err = s.payments.ValidateByID(ctx, payment.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyPaid))
	_, err = s.payments.ValidateByID(ctx, uuid.New(), nil)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	listed, err := s.payments.ListSessionPayments(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestCreatePaymentRules(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	session, order := s.sentMeal(t)

	_, err := s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethod("cheque"))
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = s.payments.CreatePayment(ctx, uuid.New(), order.ID, enums.PaymentMethodCash)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodCash)
	require.NoError(t, err)
	_, err = s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodCash)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderFullyPaid))

	p3 := testdb.SeedProduct(t, s.conn, "P3", 900, 5)
	cart, err := s.orders.AddToCart(ctx, session.ID, p3.ID, 1)
	require.NoError(t, err)
	_, err = s.payments.CreatePayment(ctx, session.ID, cart.ID, enums.PaymentMethodCash)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotSent))
}

func TestCreatePaymentRejectsClosedSession(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	session, order := s.sentMeal(t)

	_, err := s.sessions.CloseSession(ctx, session.ID, enums.SessionCloseManual)
	require.NoError(t, err)

	_, err = s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodCard)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))

	var count int64
	require.NoError(t, s.conn.Model(&models.Payment{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.Zero(t, count)
}

type failingInvoices struct{}

func (failingInvoices) Generate(context.Context, uuid.UUID) (*models.Invoice, bool, error) {
	return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("store unavailable"), "store invoice")
}

func TestInvoiceFailureDoesNotFailValidation(t *testing.T) {
	s := newStack(t, failingInvoices{})
	ctx := context.Background()
	session, order := s.sentMeal(t)
	s.readyAll(t, order)
	payment, err := s.payments.CreatePayment(ctx, session.ID, order.ID, enums.PaymentMethodCard)
	require.NoError(t, err)

	result, err := s.payments.ValidateByCode(ctx, payment.ValidationCode, nil)
	require.NoError(t, err)
	require.True(t, result.InvoicePending)
	require.Nil(t, result.Invoice)
	require.Equal(t, enums.PaymentStatusValidated, result.Payment.Status)
	require.True(t, result.SessionClosed)

	stored, err := s.payments.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusValidated, stored.Status)
}

func TestCodeGenerator(t *testing.T) {
	gen := NewCodeGenerator(8)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := gen.Next()
		require.NoError(t, err)
		require.Len(t, code, 8)
		for _, r := range code {
			require.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	require.Greater(t, len(seen), 45)
	require.Equal(t, "AB12CD", NormalizeCode(" ab-12 cd "))
}
