package payments

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

// Repository persists payments and guards their status moves.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindPendingByCode(ctx context.Context, code string) (*models.Payment, error)
	FindLatestByCode(ctx context.Context, code string) (*models.Payment, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error)
	SumByOrder(ctx context.Context, orderID uuid.UUID, statuses []enums.PaymentStatus) (int, error)
	MarkValidated(ctx context.Context, id uuid.UUID, validatedBy *uuid.UUID, at time.Time) (bool, error)
	MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
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

// LockOrder serializes payment creation per order so two concurrent requests
// cannot both claim the same outstanding balance.
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
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&order.Lines).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) findOne(ctx context.Context, q *gorm.DB) (*models.Payment, error) {
	var payment models.Payment
	if err := q.WithContext(ctx).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.findOne(ctx, r.db.Where("id = ?", id))
}

func (r *repository) FindPendingByCode(ctx context.Context, code string) (*models.Payment, error) {
	return r.findOne(ctx, r.db.Where("validation_code = ? AND status = ?", code, enums.PaymentStatusPending))
}

func (r *repository) FindLatestByCode(ctx context.Context, code string) (*models.Payment, error) {
	return r.findOne(ctx, r.db.Where("validation_code = ?", code).Order("created_at DESC"))
}

func (r *repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&payments).Error
	return payments, err
}

func (r *repository) SumByOrder(ctx context.Context, orderID uuid.UUID, statuses []enums.PaymentStatus) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount_cents), 0)").
		Where("order_id = ? AND status IN ?", orderID, statuses).
		Scan(&total).Error
	return total, err
}

// MarkValidated is a compare-and-set from pending; exactly one concurrent
// caller observes true.
func (r *repository) MarkValidated(ctx context.Context, id uuid.UUID, validatedBy *uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":       enums.PaymentStatusValidated,
			"validated_by": validatedBy,
			"validated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkArchived(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusValidated).
		Updates(map[string]any{
			"status":      enums.PaymentStatusArchived,
			"archived_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
