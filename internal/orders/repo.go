package orders

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

// Repository persists orders and their lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindPendingBySession(ctx context.Context, sessionID uuid.UUID) (*models.Order, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
	FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error)
	FindLineByProduct(ctx context.Context, orderID, productID uuid.UUID) (*models.OrderLine, error)
	CreateLine(ctx context.Context, line *models.OrderLine) error
	IncrementLine(ctx context.Context, lineID uuid.UUID, qty int) error
	SetLineQuantity(ctx context.Context, lineID uuid.UUID, qty int) error
	DeleteLine(ctx context.Context, lineID uuid.UUID) error
	DeleteLines(ctx context.Context, orderID uuid.UUID) error
	TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, at time.Time) (bool, error)
	DeletePendingPayments(ctx context.Context, orderID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func linesByCreation(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

// FindByID loads the order with its lines. Missing orders yield nil, nil.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", linesByCreation).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// LockByID takes the per-order row lock that serializes line mutations and
// status recomputation for one order.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var lines []models.OrderLine
	if err := linesByCreation(r.db.WithContext(ctx)).Where("order_id = ?", id).Find(&lines).Error; err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (r *repository) FindPendingBySession(ctx context.Context, sessionID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", linesByCreation).
		Where("session_id = ? AND status = ?", sessionID, enums.OrderStatusPending).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines", linesByCreation).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

func (r *repository) FindLine(ctx context.Context, lineID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	err := r.db.WithContext(ctx).Where("id = ?", lineID).First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &line, nil
}

func (r *repository) FindLineByProduct(ctx context.Context, orderID, productID uuid.UUID) (*models.OrderLine, error) {
	var line models.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND product_id = ?", orderID, productID).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &line, nil
}

func (r *repository) CreateLine(ctx context.Context, line *models.OrderLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

func (r *repository) IncrementLine(ctx context.Context, lineID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Update("quantity", gorm.Expr("quantity + ?", qty)).Error
}

func (r *repository) SetLineQuantity(ctx context.Context, lineID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLine{}).
		Where("id = ?", lineID).
		Update("quantity", qty).Error
}

func (r *repository) DeleteLine(ctx context.Context, lineID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", lineID).Delete(&models.OrderLine{}).Error
}

func (r *repository) DeleteLines(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.OrderLine{}).Error
}

// TransitionStatus moves the order to `to` only while it is still in one of
// `from`, stamping the matching timestamp column. It reports whether the row
// changed.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, at time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	switch to {
	case enums.OrderStatusSent:
		updates["sent_at"] = at
	case enums.OrderStatusReady:
		updates["ready_at"] = at
	case enums.OrderStatusServed:
		updates["served_at"] = at
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = at
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeletePendingPayments drops the unredeemed payments of an order. Validated
// and archived rows are kept.
func (r *repository) DeletePendingPayments(ctx context.Context, orderID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending).
		Delete(&models.Payment{})
	return res.RowsAffected, res.Error
}
