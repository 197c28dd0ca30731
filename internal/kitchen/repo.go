package kitchen

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// QueueItem is one line still waiting on the kitchen.
type QueueItem struct {
	LineID      uuid.UUID            `json:"line_id"`
	OrderID     uuid.UUID            `json:"order_id"`
	SessionID   uuid.UUID            `json:"session_id"`
	TableCode   string               `json:"table_code"`
	ProductName string               `json:"product_name"`
	Quantity    int                  `json:"quantity"`
	PrepStatus  enums.LinePrepStatus `json:"prep_status"`
	SentAt      *time.Time           `json:"sent_at"`
}

// Repository covers the kitchen-facing writes on orders and lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error)
	QueueLines(ctx context.Context, orderID uuid.UUID) error
	TransitionLine(ctx context.Context, lineID uuid.UUID, from []enums.LinePrepStatus, to enums.LinePrepStatus) (bool, error)
	MarkOrderInPrep(ctx context.Context, orderID uuid.UUID) (bool, error)
	PromoteIfAllReady(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	ListQueue(ctx context.Context, limit int) ([]QueueItem, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	if err := r.db.WithContext(ctx).Where("id = ?", lineID).First(&line).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &line, nil
}

func (r *repository) QueueLines(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("order_id = ?", orderID).
		Update("prep_status", enums.LinePrepQueued).Error
}

func (r *repository) TransitionLine(ctx context.Context, lineID uuid.UUID, from []enums.LinePrepStatus, to enums.LinePrepStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ? AND prep_status IN ?", lineID, from).
		Update("prep_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkOrderInPrep(ctx context.Context, orderID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusSent).
		Update("status", enums.OrderStatusInPrep)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// PromoteIfAllReady sets the order ready in one statement guarded by the
// absence of non-ready lines, so a sibling line moving concurrently can never
// be skipped.
func (r *repository) PromoteIfAllReady(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE orders SET status = ?, ready_at = ?, updated_at = ?
WHERE id = ?
  AND status IN ?
  AND EXISTS (SELECT 1 FROM order_lines WHERE order_id = ?)
  AND NOT EXISTS (SELECT 1 FROM order_lines WHERE order_id = ? AND prep_status <> ?)`,
		enums.OrderStatusReady, at, at,
		orderID,
		[]enums.OrderStatus{enums.OrderStatusSent, enums.OrderStatusInPrep},
		orderID,
		orderID, enums.LinePrepReady,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListQueue returns unfinished lines of orders in the kitchen, oldest send first.
func (r *repository) ListQueue(ctx context.Context, limit int) ([]QueueItem, error) {
	var items []QueueItem
	err := r.db.WithContext(ctx).
		Table("order_lines AS l").
		Select("l.id AS line_id, l.order_id, o.session_id, t.code AS table_code, l.product_name, l.quantity, l.prep_status, o.sent_at").
		Joins("JOIN orders o ON o.id = l.order_id").
		Joins("JOIN sessions s ON s.id = o.session_id").
		Joins("JOIN dining_tables t ON t.id = s.table_id").
		Where("o.status IN ?", []enums.OrderStatus{enums.OrderStatusSent, enums.OrderStatusInPrep}).
		Where("l.prep_status <> ?", enums.LinePrepReady).
		Order("o.sent_at ASC").
		Order("l.created_at ASC").
		Limit(limit).
		Scan(&items).Error
	return items, err
}
