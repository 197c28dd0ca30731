package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/internal/catalog"
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
	uxPendingOrderPerSession = "ux_orders_pending_session"
	uxLinePerProduct         = "ux_order_lines_order_product"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type sessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	LockOpen(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Session, error)
}

// KitchenQueue receives sent orders inside the send transaction.
type KitchenQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, order *models.Order) error
}

// CloseEvaluator re-checks the close policy after an order reaches a
// terminal state.
type CloseEvaluator interface {
	Evaluate(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// ExpectedLine is one entry of a client-supplied cart snapshot.
type ExpectedLine struct {
	ProductID uuid.UUID
	Quantity  int
}

// Service manages the cart and the order state machine up to service.
type Service interface {
	GetOrCreatePendingOrder(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetCart(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
	AddToCart(ctx context.Context, sessionID, productID uuid.UUID, qty int) (*models.Order, error)
	AddLine(ctx context.Context, orderID, productID uuid.UUID, qty int) (*models.Order, error)
	UpdateLineQuantity(ctx context.Context, lineID uuid.UUID, qty int) (*models.Order, error)
	RemoveLine(ctx context.Context, lineID uuid.UUID) (*models.Order, error)
	SendToKitchen(ctx context.Context, orderID uuid.UUID, expected []ExpectedLine) (*models.Order, error)
	SendSessionOrder(ctx context.Context, sessionID uuid.UUID, expected []ExpectedLine) (*models.Order, error)
	MarkServed(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type ServiceParams struct {
	Repo      Repository
	Catalog   catalog.Repository
	Sessions  sessionReader
	Kitchen   KitchenQueue
	AutoClose CloseEvaluator
	Tx        txRunner
	Outbox    outboxPublisher
	Metrics   *metrics.LifecycleMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	repo      Repository
	catalog   catalog.Repository
	sessions  sessionReader
	kitchen   KitchenQueue
	autoClose CloseEvaluator
	tx        txRunner
	outbox    outboxPublisher
	metrics   *metrics.LifecycleMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// NewService builds the order aggregator.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Catalog == nil:
		return nil, fmt.Errorf("catalog repository required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session reader required")
	case params.Kitchen == nil:
		return nil, fmt.Errorf("kitchen queue required")
	case params.AutoClose == nil:
		return nil, fmt.Errorf("close evaluator required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		catalog:   params.Catalog,
		sessions:  params.Sessions,
		kitchen:   params.Kitchen,
		autoClose: params.AutoClose,
		tx:        params.Tx,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func orderNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func lineNotFound() error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
}

func orderNotPending() error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer editable").
		WithReason(pkgerrors.ReasonOrderNotPending)
}

func invalidQuantity() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
		WithReason(pkgerrors.ReasonInvalidQuantity)
}

func productUnavailable(productID uuid.UUID, requested, available int) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "product unavailable in the requested quantity").
		WithReason(pkgerrors.ReasonProductUnavailable).
		WithDetails(map[string]any{
			"product_id": productID.String(),
			"requested":  requested,
			"available":  available,
		})
}

func invalidTransition(from, to enums.OrderStatus) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", from, to)).
		WithReason(pkgerrors.ReasonInvalidTransition).
		WithDetails(map[string]any{"from": from, "to": to})
}

// GetOrCreatePendingOrder returns the session's pending order, creating it
// when absent. The session must be open. Concurrent creators race on
// ux_orders_pending_session and the losers read back the winner's row.
func (s *service) GetOrCreatePendingOrder(ctx context.Context, sessionID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.sessions.LockOpen(ctx, tx, sessionID); err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindPendingBySession(ctx, sessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending order")
		}
		if existing != nil {
			order = existing
			return nil
		}
		created := &models.Order{SessionID: sessionID, Status: enums.OrderStatusPending}
		if err := repo.CreateOrder(ctx, created); err != nil {
			return err
		}
		created.Lines = []models.OrderLine{}
		order = created
		return nil
	})
	if err == nil {
		return order, nil
	}
	if !db.IsUniqueViolation(err, uxPendingOrderPerSession) {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pending order")
	}
	winner, findErr := s.repo.FindPendingBySession(ctx, sessionID)
	if findErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload pending order")
	}
	if winner == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "pending order changed concurrently")
	}
	return winner, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order == nil {
		return nil, orderNotFound()
	}
	return order, nil
}

// GetCart returns the pending order of the session, or nil when the diner
// has not added anything since the last send.
func (s *service) GetCart(ctx context.Context, sessionID uuid.UUID) (*models.Order, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	order, err := s.repo.FindPendingBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return order, nil
}

func (s *service) ListSessionOrders(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	orders, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list session orders")
	}
	return orders, nil
}

// AddToCart adds to the session's pending order. If that order is sent
// between lookup and insert, the add is retried once against a fresh round.
func (s *service) AddToCart(ctx context.Context, sessionID, productID uuid.UUID, qty int) (*models.Order, error) {
	if qty <= 0 {
		return nil, invalidQuantity()
	}
	for attempt := 0; ; attempt++ {
		order, err := s.GetOrCreatePendingOrder(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		updated, err := s.AddLine(ctx, order.ID, productID, qty)
		if err != nil && attempt == 0 && pkgerrors.HasReason(err, pkgerrors.ReasonOrderNotPending) {
			continue
		}
		return updated, err
	}
}

// AddLine snapshots the product price on first add and increments the
// existing line afterwards. Stock is only checked here; it is committed at
// send time.
func (s *service) AddLine(ctx context.Context, orderID, productID uuid.UUID, qty int) (*models.Order, error) {
	if qty <= 0 {
		return nil, invalidQuantity()
	}
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.FindLineByProduct(ctx, orderID, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
	}
	already := 0
	if current != nil {
		already = current.Quantity
	}
	if !product.IsAvailable || product.Stock < already+qty {
		return nil, productUnavailable(productID, already+qty, product.Stock)
	}

	var result *models.Order
	for attempt := 0; ; attempt++ {
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := s.lockPending(ctx, tx, orderID)
			if err != nil {
				return err
			}
			line, err := repo.FindLineByProduct(ctx, orderID, productID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
			}
			if line != nil {
				if err := repo.IncrementLine(ctx, line.ID, qty); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment order line")
				}
			} else {
				line = &models.OrderLine{
					OrderID:        orderID,
					ProductID:      productID,
					ProductName:    product.Name,
					Quantity:       qty,
					UnitPriceCents: product.PriceCents,
					PrepStatus:     enums.LinePrepQueued,
				}
				if err := repo.CreateLine(ctx, line); err != nil {
					if db.IsUniqueViolation(err, uxLinePerProduct) {
						return err
					}
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order line")
				}
			}
			result, err = repo.FindByID(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
			}
			return nil
		})
		if err != nil && attempt == 0 && db.IsUniqueViolation(err, uxLinePerProduct) {
			continue
		}
		break
	}
	if err != nil {
		if db.IsUniqueViolation(err, uxLinePerProduct) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order line changed concurrently")
		}
		return nil, err
	}
	return result, nil
}

// lockPending locks the owning session and then the order, in that order,
// and requires the session to be open and the order still pending.
func (s *service) lockPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	current, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if current == nil {
		return nil, orderNotFound()
	}
	if _, err := s.sessions.LockOpen(ctx, tx, current.SessionID); err != nil {
		return nil, err
	}
	order, err := repo.LockByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	if order == nil {
		return nil, orderNotFound()
	}
	if order.Status != enums.OrderStatusPending {
		return nil, orderNotPending()
	}
	return order, nil
}

// UpdateLineQuantity sets an absolute quantity; zero removes the line.
func (s *service) UpdateLineQuantity(ctx context.Context, lineID uuid.UUID, qty int) (*models.Order, error) {
	if qty < 0 {
		return nil, invalidQuantity()
	}
	if qty == 0 {
		return s.RemoveLine(ctx, lineID)
	}
	line, err := s.repo.FindLine(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
	}
	if line == nil {
		return nil, lineNotFound()
	}
	product, err := s.catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}
	if qty > line.Quantity && (!product.IsAvailable || product.Stock < qty) {
		return nil, productUnavailable(line.ProductID, qty, product.Stock)
	}
	return s.mutateLine(ctx, line.OrderID, lineID, func(repo Repository) error {
		return repo.SetLineQuantity(ctx, lineID, qty)
	})
}

func (s *service) RemoveLine(ctx context.Context, lineID uuid.UUID) (*models.Order, error) {
	line, err := s.repo.FindLine(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
	}
	if line == nil {
		return nil, lineNotFound()
	}
	return s.mutateLine(ctx, line.OrderID, lineID, func(repo Repository) error {
		return repo.DeleteLine(ctx, lineID)
	})
}

func (s *service) mutateLine(ctx context.Context, orderID, lineID uuid.UUID, mutate func(Repository) error) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := s.lockPending(ctx, tx, orderID); err != nil {
			return err
		}
		line, err := repo.FindLine(ctx, lineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
		}
		if line == nil {
			return lineNotFound()
		}
		if err := mutate(repo); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order line")
		}
		result, err = repo.FindByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SendSessionOrder sends the session's pending order. A snapshot on a session
// without a pending order opens a round for it first.
func (s *service) SendSessionOrder(ctx context.Context, sessionID uuid.UUID, expected []ExpectedLine) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	if expected != nil {
		order, err = s.GetOrCreatePendingOrder(ctx, sessionID)
	} else {
		order, err = s.GetCart(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no lines").
			WithReason(pkgerrors.ReasonEmptyOrder)
	}
	return s.SendToKitchen(ctx, order.ID, expected)
}

func mergeExpected(expected []ExpectedLine) ([]ExpectedLine, error) {
	merged := make([]ExpectedLine, 0, len(expected))
	index := make(map[uuid.UUID]int, len(expected))
	for _, line := range expected {
		if line.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
		}
		if line.Quantity <= 0 {
			return nil, invalidQuantity()
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

// SendToKitchen commits stock and hands the order to the kitchen. When
// expected is non-nil the order lines are first replaced by the snapshot.
// Any line without enough stock fails the whole send and rolls back every
// decrement already applied.
func (s *service) SendToKitchen(ctx context.Context, orderID uuid.UUID, expected []ExpectedLine) (*models.Order, error) {
	var (
		products map[uuid.UUID]models.Product
		err      error
	)
	if expected != nil {
		if expected, err = mergeExpected(expected); err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(expected))
		for _, line := range expected {
			ids = append(ids, line.ProductID)
		}
		if products, err = s.catalog.GetProducts(ctx, ids); err != nil {
			return nil, err
		}
		for _, line := range expected {
			product, ok := products[line.ProductID]
			if !ok {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
					WithDetails(map[string]any{"product_id": line.ProductID.String()})
			}
			if !product.IsAvailable {
				return nil, productUnavailable(line.ProductID, line.Quantity, product.Stock)
			}
		}
	}

	var sent *models.Order
	stockConflict := false
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		stock := s.catalog.WithTx(tx)
		order, err := s.lockPending(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if expected != nil {
			if order.Lines, err = s.reconcile(ctx, repo, order, expected, products); err != nil {
				return err
			}
		}
		if len(order.Lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order has no lines").
				WithReason(pkgerrors.ReasonEmptyOrder)
		}

		for _, line := range order.Lines {
			ok, err := stock.DecrementStock(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				stockConflict = true
				available := 0
				if current, getErr := stock.GetProduct(ctx, line.ProductID); getErr == nil {
					available = current.Stock
				}
				return productUnavailable(line.ProductID, line.Quantity, available)
			}
		}

		sentAt := s.now()
		moved, err := repo.TransitionStatus(ctx, order.ID, []enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusSent, sentAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order sent")
		}
		if !moved {
			return orderNotPending()
		}
		order.Status = enums.OrderStatusSent
		order.SentAt = &sentAt

		if err := s.kitchen.Enqueue(ctx, tx, order); err != nil {
			return err
		}
		sent = order
		return nil
	})
	if err != nil {
		if stockConflict {
			s.metrics.StockConflict()
		}
		return nil, err
	}

	s.metrics.OrderSent()
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, sent.ID.String())
		logCtx = s.logg.WithSessionID(logCtx, sent.SessionID.String())
		s.logg.Info(s.logg.WithField(logCtx, "total_cents", sent.TotalCents()), "order sent to kitchen")
	}
	return sent, nil
}

// reconcile clears the order and rewrites it from the snapshot. Products
// already on the order keep the price frozen when they were first added.
func (s *service) reconcile(ctx context.Context, repo Repository, order *models.Order, expected []ExpectedLine, products map[uuid.UUID]models.Product) ([]models.OrderLine, error) {
	frozen := make(map[uuid.UUID]models.OrderLine, len(order.Lines))
	for _, line := range order.Lines {
		frozen[line.ProductID] = line
	}
	if err := repo.DeleteLines(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear order lines")
	}
	lines := make([]models.OrderLine, 0, len(expected))
	for _, want := range expected {
		product := products[want.ProductID]
		line := models.OrderLine{
			OrderID:        order.ID,
			ProductID:      want.ProductID,
			ProductName:    product.Name,
			Quantity:       want.Quantity,
			UnitPriceCents: product.PriceCents,
			PrepStatus:     enums.LinePrepQueued,
		}
		if prev, ok := frozen[want.ProductID]; ok {
			line.ProductName = prev.ProductName
			line.UnitPriceCents = prev.UnitPriceCents
		}
		if err := repo.CreateLine(ctx, &line); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rewrite order line")
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// MarkServed is valid from sent, in_prep or ready.
func (s *service) MarkServed(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.finish(ctx, orderID, enums.OrderStatusServed)
}

// Cancel is valid from sent, in_prep or ready. It gives the committed stock
// back and drops the order's pending payments.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.finish(ctx, orderID, enums.OrderStatusCancelled)
}

func (s *service) finish(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus) (*models.Order, error) {
	var done *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order == nil {
			return orderNotFound()
		}
		from := order.Status
		if !from.CanTransitionTo(to) {
			return invalidTransition(from, to)
		}
		at := s.now()
		moved, err := repo.TransitionStatus(ctx, order.ID, enums.SourcesFor(to), to, at)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !moved {
			return invalidTransition(from, to)
		}
		if to == enums.OrderStatusCancelled {
			stock := s.catalog.WithTx(tx)
			for _, line := range order.Lines {
				if err := stock.RestoreStock(ctx, line.ProductID, line.Quantity); err != nil {
					return err
				}
			}
			// an open code on a cancelled order must not be redeemable
			if _, err := repo.DeletePendingPayments(ctx, order.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void pending payments")
			}
			order.CancelledAt = &at
		} else {
			order.ServedAt = &at
		}
		order.Status = to

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			SessionID:     order.SessionID,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:   order.ID,
				SessionID: order.SessionID,
				From:      from,
				To:        to,
				ChangedAt: at,
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order status change")
		}
		done = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.autoClose.Evaluate(ctx, done.SessionID); err != nil && s.logg != nil {
		logCtx := s.logg.WithSessionID(ctx, done.SessionID.String())
		s.logg.Error(s.logg.WithOrderID(logCtx, done.ID.String()), "auto-close evaluation failed", err)
	}
	return done, nil
}
