package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/internal/catalog"
	"github.com/angelmondragon/tableside-backend/internal/sessions"
	"github.com/angelmondragon/tableside-backend/internal/testdb"
	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
)

type recordingKitchen struct {
	mu     sync.Mutex
	queued []uuid.UUID
}

func (k *recordingKitchen) Enqueue(_ context.Context, _ *gorm.DB, order *models.Order) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queued = append(k.queued, order.ID)
	return nil
}

type recordingCloser struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (c *recordingCloser) Evaluate(_ context.Context, sessionID uuid.UUID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, sessionID)
	return false, nil
}

type fixture struct {
	conn     *gorm.DB
	svc      Service
	sessions sessions.Service
	kitchen  *recordingKitchen
	closer   *recordingCloser
	session  models.Session
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := testdb.New(t)
	kitchen := &recordingKitchen{}
	closer := &recordingCloser{}
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	sessionSvc, err := sessions.NewService(sessions.ServiceParams{
		Repo:   sessions.NewRepository(conn),
		Tables: catalog.NewRepository(conn),
		Tx:     testdb.Client(conn),
		Outbox: publisher,
	})
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:      NewRepository(conn),
		Catalog:   catalog.NewRepository(conn),
		Sessions:  sessionSvc,
		Kitchen:   kitchen,
		AutoClose: closer,
		Tx:        testdb.Client(conn),
		Outbox:    publisher,
		Now:       func() time.Time { return time.Date(2026, 10, 1, 20, 30, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	table := testdb.SeedTable(t, conn, "T1")
	client := models.Client{Name: "Amina"}
	require.NoError(t, conn.Create(&client).Error)
	session := models.Session{TableID: table.ID, ClientID: client.ID, Status: enums.SessionStatusOpen, OpenedAt: time.Now().UTC()}
	require.NoError(t, conn.Create(&session).Error)

	return fixture{conn: conn, svc: svc, sessions: sessionSvc, kitchen: kitchen, closer: closer, session: session}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestSendToKitchenCommitsStockAndFreezesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	burger := testdb.SeedProduct(t, f.conn, "Burger", 1500, 10)
	fries := testdb.SeedProduct(t, f.conn, "Fries", 500, 10)

	_, err := f.svc.AddToCart(ctx, f.session.ID, burger.ID, 2)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.session.ID, fries.ID, 6)
	require.NoError(t, err)
	require.Equal(t, 6000, cart.TotalCents())

	sent, err := f.svc.SendSessionOrder(ctx, f.session.ID, nil)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)
	require.Equal(t, 6000, sent.TotalCents())
	require.Equal(t, 8, testdb.ProductStock(t, f.conn, burger.ID))
	require.Equal(t, 4, testdb.ProductStock(t, f.conn, fries.ID))
	require.Equal(t, []uuid.UUID{sent.ID}, f.kitchen.queued)

	// catalog price changes never leak into a sent order
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", burger.ID).Update("price_cents", 9999).Error)
	reloaded, err := f.svc.GetOrder(ctx, sent.ID)
	require.NoError(t, err)
	require.Equal(t, 6000, reloaded.TotalCents())

	cart, err = f.svc.GetCart(ctx, f.session.ID)
	require.NoError(t, err)
	require.Nil(t, cart)
}

func TestAddLineRejectsQuantityAboveStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soup := testdb.SeedProduct(t, f.conn, "Soup", 800, 3)

	_, err := f.svc.AddToCart(ctx, f.session.ID, soup.ID, 5)
	require.Error(t, err)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))
	require.Equal(t, 3, testdb.ProductStock(t, f.conn, soup.ID))

	_, err = f.svc.AddToCart(ctx, f.session.ID, soup.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.AddToCart(ctx, f.session.ID, soup.ID, 2)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable), "stock check must include the quantity already in the cart")
}

func TestAddLineValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soup := testdb.SeedProduct(t, f.conn, "Soup", 800, 3)

	_, err := f.svc.AddToCart(ctx, f.session.ID, soup.ID, 0)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidQuantity))

	_, err = f.svc.AddToCart(ctx, f.session.ID, uuid.New(), 1)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", soup.ID).Update("is_available", false).Error)
	_, err = f.svc.AddToCart(ctx, f.session.ID, soup.ID, 1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))
}

func TestAddLineIncrementsExistingLineAndKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 10)

	_, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", tea.ID).Update("price_cents", 450).Error)
	cart, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 2)
	require.NoError(t, err)

	require.Len(t, cart.Lines, 1)
	require.Equal(t, 3, cart.Lines[0].Quantity)
	require.Equal(t, 300, cart.Lines[0].UnitPriceCents)
}

func TestClosedSessionRejectsNewCart(t *testing.T) {
	f := newFixture(t)
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 10)
	require.NoError(t, f.conn.Model(&models.Session{}).Where("id = ?", f.session.ID).Update("status", enums.SessionStatusClosed).Error)

	_, err := f.svc.AddToCart(context.Background(), f.session.ID, tea.ID, 1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))
}

func TestClosedSessionRejectsLeftoverPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soup := testdb.SeedProduct(t, f.conn, "Soup", 800, 2)

	// a rejected add still opens the round
	_, err := f.svc.AddToCart(ctx, f.session.ID, soup.ID, 5)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))
	leftover, err := f.svc.GetCart(ctx, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, leftover)
	require.Empty(t, leftover.Lines)

	require.NoError(t, f.conn.Model(&models.Session{}).Where("id = ?", f.session.ID).Update("status", enums.SessionStatusClosed).Error)

	_, err = f.svc.AddToCart(ctx, f.session.ID, soup.ID, 1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))
	_, err = f.svc.AddLine(ctx, leftover.ID, soup.ID, 1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))
	_, err = f.svc.SendSessionOrder(ctx, f.session.ID, []ExpectedLine{{ProductID: soup.ID, Quantity: 1}})
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))
	_, err = f.svc.SendToKitchen(ctx, leftover.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonSessionClosed))

	order, err := f.svc.GetOrder(ctx, leftover.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Empty(t, order.Lines)
	require.Equal(t, 2, testdb.ProductStock(t, f.conn, soup.ID))
	require.Empty(t, f.kitchen.queued)
}

func TestCloseSessionDiscardsEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soup := testdb.SeedProduct(t, f.conn, "Soup", 800, 2)

	_, err := f.svc.AddToCart(ctx, f.session.ID, soup.ID, 5)
	require.Error(t, err)

	_, err = f.sessions.CloseSession(ctx, f.session.ID, enums.SessionCloseManual)
	require.NoError(t, err)

	cart, err := f.svc.GetCart(ctx, f.session.ID)
	require.NoError(t, err)
	require.Nil(t, cart)
}

func TestConcurrentGetOrCreatePendingOrderReturnsOneOrder(t *testing.T) {
	f := newFixture(t)

	const callers = 6
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := f.svc.GetOrCreatePendingOrder(context.Background(), f.session.ID)
			errs[i] = err
			if order != nil {
				ids[i] = order.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	var n int64
	require.NoError(t, f.conn.Model(&models.Order{}).Where("session_id = ?", f.session.ID).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestUpdateAndRemoveLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)
	cake := testdb.SeedProduct(t, f.conn, "Cake", 700, 5)

	_, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.session.ID, cake.ID, 1)
	require.NoError(t, err)
	teaLine := cart.Lines[0]
	cakeLine := cart.Lines[1]

	cart, err = f.svc.UpdateLineQuantity(ctx, teaLine.ID, 4)
	require.NoError(t, err)
	require.Equal(t, 4*300+700, cart.TotalCents())

	_, err = f.svc.UpdateLineQuantity(ctx, teaLine.ID, 6)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))

	_, err = f.svc.UpdateLineQuantity(ctx, teaLine.ID, -1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidQuantity))

	cart, err = f.svc.UpdateLineQuantity(ctx, cakeLine.ID, 0)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)

	cart, err = f.svc.RemoveLine(ctx, teaLine.ID)
	require.NoError(t, err)
	require.Empty(t, cart.Lines)

	_, err = f.svc.RemoveLine(ctx, teaLine.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestSentOrderIsNoLongerEditable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)

	cart, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	sent, err := f.svc.SendToKitchen(ctx, cart.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.AddLine(ctx, sent.ID, tea.ID, 1)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotPending))
	_, err = f.svc.UpdateLineQuantity(ctx, sent.Lines[0].ID, 2)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotPending))
	_, err = f.svc.SendToKitchen(ctx, sent.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotPending))

	// a further add opens the next round
	next, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	require.NotEqual(t, sent.ID, next.ID)
	require.Equal(t, enums.OrderStatusPending, next.Status)
}

func TestSendToKitchenRollsBackEveryDecrementOnShortage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)
	cake := testdb.SeedProduct(t, f.conn, "Cake", 700, 2)

	_, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 3)
	require.NoError(t, err)
	cart, err := f.svc.AddToCart(ctx, f.session.ID, cake.ID, 2)
	require.NoError(t, err)

	// someone else consumed the cake in the meantime
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", cake.ID).Update("stock", 1).Error)

	_, err = f.svc.SendToKitchen(ctx, cart.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonProductUnavailable))
	require.Equal(t, 5, testdb.ProductStock(t, f.conn, tea.ID))
	require.Equal(t, 1, testdb.ProductStock(t, f.conn, cake.ID))

	order, err := f.svc.GetOrder(ctx, cart.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Empty(t, f.kitchen.queued)
}

func TestSendToKitchenReconcilesExpectedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 10)
	cake := testdb.SeedProduct(t, f.conn, "Cake", 700, 10)

	_, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.conn.Model(&models.Product{}).Where("id = ?", tea.ID).Update("price_cents", 350).Error)

	sent, err := f.svc.SendSessionOrder(ctx, f.session.ID, []ExpectedLine{
		{ProductID: tea.ID, Quantity: 2},
		{ProductID: cake.ID, Quantity: 1},
		{ProductID: tea.ID, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, sent.Lines, 2)
	require.Equal(t, 3*300+700, sent.TotalCents())
	require.Equal(t, 7, testdb.ProductStock(t, f.conn, tea.ID))
	require.Equal(t, 9, testdb.ProductStock(t, f.conn, cake.ID))
}

func TestSendToKitchenRejectsEmptyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendSessionOrder(ctx, f.session.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonEmptyOrder))

	order, err := f.svc.GetOrCreatePendingOrder(ctx, f.session.ID)
	require.NoError(t, err)
	_, err = f.svc.SendToKitchen(ctx, order.ID, nil)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonEmptyOrder))

	_, err = f.svc.SendToKitchen(ctx, order.ID, []ExpectedLine{})
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonEmptyOrder))
}

func TestCancelRestoresStockAndTriggersEvaluation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)

	cart, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.SendToKitchen(ctx, cart.ID, nil)
	require.NoError(t, err)
	require.Equal(t, 3, testdb.ProductStock(t, f.conn, tea.ID))

	cancelled, err := f.svc.Cancel(ctx, cart.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, 5, testdb.ProductStock(t, f.conn, tea.ID))
	require.Equal(t, []uuid.UUID{f.session.ID}, f.closer.calls)

	_, err = f.svc.MarkServed(ctx, cart.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition))
}

func TestCancelDropsPendingPaymentsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)

	cart, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 2)
	require.NoError(t, err)
	_, err = f.svc.SendToKitchen(ctx, cart.ID, nil)
	require.NoError(t, err)

	validatedAt := time.Now().UTC()
	paid := models.Payment{OrderID: cart.ID, SessionID: f.session.ID, Method: enums.PaymentMethodCash, AmountCents: 300, ValidationCode: "PAID01", Status: enums.PaymentStatusValidated, ValidatedAt: &validatedAt}
	open := models.Payment{OrderID: cart.ID, SessionID: f.session.ID, Method: enums.PaymentMethodCard, AmountCents: 300, ValidationCode: "OPEN01", Status: enums.PaymentStatusPending}
	require.NoError(t, f.conn.Create(&paid).Error)
	require.NoError(t, f.conn.Create(&open).Error)

	_, err = f.svc.Cancel(ctx, cart.ID)
	require.NoError(t, err)

	var remaining []models.Payment
	require.NoError(t, f.conn.Where("order_id = ?", cart.ID).Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, paid.ID, remaining[0].ID)
}

func TestMarkServedRequiresSentOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tea := testdb.SeedProduct(t, f.conn, "Tea", 300, 5)

	cart, err := f.svc.AddToCart(ctx, f.session.ID, tea.ID, 1)
	require.NoError(t, err)
	_, err = f.svc.MarkServed(ctx, cart.ID)
	require.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonInvalidTransition))

	_, err = f.svc.SendToKitchen(ctx, cart.ID, nil)
	require.NoError(t, err)
	served, err := f.svc.MarkServed(ctx, cart.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusServed, served.Status)
	require.NotNil(t, served.ServedAt)

	var n int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderStatusChanged).Count(&n).Error)
	require.EqualValues(t, 1, n)
}
