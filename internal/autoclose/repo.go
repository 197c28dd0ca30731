package autoclose

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
)

// Repository loads the session snapshot the close policy runs on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SessionOrders(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error)
	SessionPayments(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error)
	SessionsWithSettledPayments(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
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

func (r *repository) SessionOrders(ctx context.Context, sessionID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Lines").
		Where("session_id = ?", sessionID).
		Find(&orders).Error
	return orders, err
}

func (r *repository) SessionPayments(ctx context.Context, sessionID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&payments).Error
	return payments, err
}

var settledStatuses = []enums.PaymentStatus{enums.PaymentStatusValidated, enums.PaymentStatusArchived}

// SessionsWithSettledPayments pages through open sessions holding at least
// one validated or archived payment, oldest first validation first. after is
// the last session of the previous page, uuid.Nil for the first page.
func (r *repository) SessionsWithSettledPayments(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Table("sessions AS s").
		Joins("JOIN payments p ON p.session_id = s.id").
		Where("s.status = ?", enums.SessionStatusOpen).
		Where("p.status IN ?", settledStatuses).
		Group("s.id")
	if after != uuid.Nil {
		cursor := r.db.WithContext(ctx).
			Model(&models.Payment{}).
			Select("MIN(validated_at)").
			Where("session_id = ? AND status IN ?", after, settledStatuses)
		q = q.Having("MIN(p.validated_at) > (?) OR (MIN(p.validated_at) = (?) AND s.id > ?)", cursor, cursor, after)
	}
	err := q.
		Order("MIN(p.validated_at) ASC").
		Order("s.id ASC").
		Limit(limit).
		Pluck("s.id", &ids).Error
	return ids, err
}
