package sessions

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

// Repository persists sessions and the diners that open them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateClient(ctx context.Context, client *models.Client) error
	CreateSession(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	FindOpenByTable(ctx context.Context, tableID uuid.UUID) (*models.Session, error)
	CloseIfOpen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, closedAt time.Time) (bool, error)
	DiscardEmptyCarts(ctx context.Context, sessionID uuid.UUID) (int64, error)
	ListOpenIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a sessions repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateClient(ctx context.Context, client *models.Client) error {
	return r.db.WithContext(ctx).Create(client).Error
}

func (r *repository) CreateSession(ctx context.Context, session *models.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// FindByID returns nil without error when the session does not exist.
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// LockByID takes the session row lock. Every writer that depends on the
// session being open takes it before any order lock.
func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) FindOpenByTable(ctx context.Context, tableID uuid.UUID) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("table_id = ? AND status = ?", tableID, enums.SessionStatusOpen).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// CloseIfOpen flips an open session to closed. It reports false when the row
// was already closed or missing; the conditional update makes concurrent
// closers agree on a single winner.
func (r *repository) CloseIfOpen(ctx context.Context, id uuid.UUID, reason enums.SessionCloseReason, closedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status = ?", id, enums.SessionStatusOpen).
		Updates(map[string]any{
			"status":       enums.SessionStatusClosed,
			"close_reason": reason,
			"closed_at":    closedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DiscardEmptyCarts deletes pending orders of the session that hold no lines.
func (r *repository) DiscardEmptyCarts(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", sessionID, enums.OrderStatusPending).
		Where("NOT EXISTS (SELECT 1 FROM order_lines l WHERE l.order_id = orders.id)").
		Delete(&models.Order{})
	return res.RowsAffected, res.Error
}

func (r *repository) ListOpenIDs(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("status = ?", enums.SessionStatusOpen).
		Order("opened_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
