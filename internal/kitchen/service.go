package kitchen

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tableside-backend/pkg/errors"
	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/outbox"
	"github.com/angelmondragon/tableside-backend/pkg/outbox/payloads"
)

const (
	defaultQueueLimit = 100
	maxQueueLimit     = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LineUpdate reports the line after a transition and the resulting order status.
type LineUpdate struct {
	Line        models.OrderLine  `json:"line"`
	OrderStatus enums.OrderStatus `json:"order_status"`
	Changed     bool              `json:"changed"`
}

// Service drives the per-line preparation state machine.
type Service interface {
	Enqueue(ctx context.Context, tx *gorm.DB, order *models.Order) error
	StartPreparing(ctx context.Context, lineID uuid.UUID) (*LineUpdate, error)
	MarkReady(ctx context.Context, lineID uuid.UUID) (*LineUpdate, error)
	UpdateLineStatus(ctx context.Context, lineID uuid.UUID, status enums.LinePrepStatus) (*LineUpdate, error)
	Queue(ctx context.Context, limit int) ([]QueueItem, error)
}

type ServiceParams struct {
	Repo   Repository
	Tx     txRunner
	Outbox outboxPublisher
	Logger *logger.Logger
	Now    func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("kitchen repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:   params.Repo,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    now,
	}, nil
}

func invalidTransition(msg string, details map[string]any) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, msg).
		WithReason(pkgerrors.ReasonInvalidTransition).
		WithDetails(details)
}

// Enqueue resets every line of a just-sent order to queued and publishes the
// kitchen ticket. It runs inside the caller's send transaction.
func (s *service) Enqueue(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "order required")
	}
	if err := s.repo.WithTx(tx).QueueLines(ctx, order.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order lines")
	}

	lines := make([]payloads.OrderSentLine, 0, len(order.Lines))
	for i := range order.Lines {
		order.Lines[i].PrepStatus = enums.LinePrepQueued
		lines = append(lines, payloads.OrderSentLine{
			LineID:      order.Lines[i].ID,
			ProductID:   order.Lines[i].ProductID,
			ProductName: order.Lines[i].ProductName,
			Quantity:    order.Lines[i].Quantity,
		})
	}
	sentAt := s.now()
	if order.SentAt != nil {
		sentAt = *order.SentAt
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderSent,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		SessionID:     order.SessionID,
		Data: payloads.OrderSentEvent{
			OrderID:    order.ID,
			SessionID:  order.SessionID,
			TotalCents: int64(order.TotalCents()),
			Lines:      lines,
			SentAt:     sentAt,
		},
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order sent")
	}
	return nil
}

// StartPreparing is a no-op on a line already preparing.
func (s *service) StartPreparing(ctx context.Context, lineID uuid.UUID) (*LineUpdate, error) {
	return s.transition(ctx, lineID, enums.LinePrepPreparing)
}

// MarkReady accepts queued lines for items that need no preparation.
func (s *service) MarkReady(ctx context.Context, lineID uuid.UUID) (*LineUpdate, error) {
	return s.transition(ctx, lineID, enums.LinePrepReady)
}

func (s *service) UpdateLineStatus(ctx context.Context, lineID uuid.UUID, status enums.LinePrepStatus) (*LineUpdate, error) {
	switch status {
	case enums.LinePrepPreparing:
		return s.StartPreparing(ctx, lineID)
	case enums.LinePrepReady:
		return s.MarkReady(ctx, lineID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("status %q cannot be set by the kitchen", status))
	}
}

// transition holds the order row lock for the whole read-modify-write so the
// ready promotion sees every sibling line update.
func (s *service) transition(ctx context.Context, lineID uuid.UUID, to enums.LinePrepStatus) (*LineUpdate, error) {
	current, err := s.repo.FindLine(ctx, lineID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
	}
	if current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
	}

	var result *LineUpdate
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockOrder(ctx, current.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		line, err := repo.FindLine(ctx, lineID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order line")
		}
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order line not found")
		}

		if line.PrepStatus == to {
			result = &LineUpdate{Line: *line, OrderStatus: order.Status}
			return nil
		}
		if !order.Status.IsInKitchen() {
			return invalidTransition("order is not in the kitchen", map[string]any{"order_status": order.Status})
		}
		from := line.PrepStatus
		if !from.CanTransitionTo(to) {
			return invalidTransition(fmt.Sprintf("line cannot move from %s to %s", from, to), map[string]any{"from": from, "to": to})
		}
		moved, err := repo.TransitionLine(ctx, line.ID, enums.PrepSourcesFor(to), to)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line status")
		}
		if !moved {
			return invalidTransition("line changed concurrently", map[string]any{"from": from, "to": to})
		}
		line.PrepStatus = to

		at := s.now()
		if err := s.emit(ctx, tx, enums.EventLinePrepStatusChanged, order.ID, payloads.LinePrepStatusChangedEvent{
			LineID:    line.ID,
			OrderID:   order.ID,
			From:      from,
			To:        to,
			ChangedAt: at,
		}); err != nil {
			return err
		}

		if order.Status == enums.OrderStatusSent {
			inPrep, err := repo.MarkOrderInPrep(ctx, order.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order in preparation")
			}
			if inPrep {
				if err := s.emitOrderStatus(ctx, tx, order, enums.OrderStatusInPrep, at); err != nil {
					return err
				}
				order.Status = enums.OrderStatusInPrep
			}
		}

		if to == enums.LinePrepReady {
			promoted, err := repo.PromoteIfAllReady(ctx, order.ID, at)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote order")
			}
			if promoted {
				if err := s.emitOrderStatus(ctx, tx, order, enums.OrderStatusReady, at); err != nil {
					return err
				}
				order.Status = enums.OrderStatusReady
			}
		}

		result = &LineUpdate{Line: *line, OrderStatus: order.Status, Changed: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed && result.OrderStatus == enums.OrderStatusReady && s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, result.Line.OrderID.String()), "order ready")
	}
	return result, nil
}

func (s *service) emitOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, at time.Time) error {
	return s.emit(ctx, tx, enums.EventOrderStatusChanged, order.ID, payloads.OrderStatusChangedEvent{
		OrderID:   order.ID,
		SessionID: order.SessionID,
		From:      order.Status,
		To:        to,
		ChangedAt: at,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, orderID uuid.UUID, data any) error {
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          data,
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("emit %s", eventType))
	}
	return nil
}

func (s *service) Queue(ctx context.Context, limit int) ([]QueueItem, error) {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	if limit > maxQueueLimit {
		limit = maxQueueLimit
	}
	items, err := s.repo.ListQueue(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list kitchen queue")
	}
	return items, nil
}
