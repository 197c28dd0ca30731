package invoices

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
	"github.com/angelmondragon/tableside-backend/pkg/enums"
	"github.com/angelmondragon/tableside-backend/pkg/pagination"
)

// SearchFilters narrows an invoice search. Zero values are ignored.
type SearchFilters struct {
	From          *time.Time
	To            *time.Time
	SessionID     *uuid.UUID
	TableID       *uuid.UUID
	MinTotalCents *int
	NumberPrefix  string
}

// Repository persists invoices and reads the payment snapshot they embed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error)
	FindByNumber(ctx context.Context, number string) (*models.Invoice, error)
	Search(ctx context.Context, filters SearchFilters, cursor *pagination.Cursor, limit int) ([]models.Invoice, error)
	LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	ListOrdersMissingInvoice(ctx context.Context, settledBefore time.Time, limit int) ([]uuid.UUID, error)
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

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) first(ctx context.Context, query string, arg any) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).Where(query, arg).First(&invoice).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) (*models.Invoice, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *repository) FindByNumber(ctx context.Context, number string) (*models.Invoice, error) {
	return r.first(ctx, "number = ?", number)
}

// Search orders newest first by (generated_at, id) and resumes strictly after
// the cursor.
func (r *repository) Search(ctx context.Context, filters SearchFilters, cursor *pagination.Cursor, limit int) ([]models.Invoice, error) {
	q := r.db.WithContext(ctx).Model(&models.Invoice{})
	if filters.From != nil {
		q = q.Where("generated_at >= ?", *filters.From)
	}
	if filters.To != nil {
		q = q.Where("generated_at < ?", *filters.To)
	}
	if filters.SessionID != nil {
		q = q.Where("session_id = ?", *filters.SessionID)
	}
	if filters.TableID != nil {
		q = q.Where("table_id = ?", *filters.TableID)
	}
	if filters.MinTotalCents != nil {
		q = q.Where("total_cents >= ?", *filters.MinTotalCents)
	}
	if prefix := strings.TrimSpace(filters.NumberPrefix); prefix != "" {
		q = q.Where("number LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%")
	}
	if cursor != nil {
		q = q.Where("(generated_at < ?) OR (generated_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Invoice
	err := q.Order("generated_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(value)
}

// LatestPayment prefers the most recently settled payment and falls back to
// the newest pending one.
func (r *repository) LatestPayment(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.PaymentStatus{enums.PaymentStatusValidated, enums.PaymentStatusArchived}).
		Order("validated_at DESC").
		Order("created_at DESC").
		First(&payment).Error
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	err = r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// ListOrdersMissingInvoice finds orders holding a settled payment older than
// settledBefore that still have no invoice.
func (r *repository) ListOrdersMissingInvoice(ctx context.Context, settledBefore time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Table("payments AS p").
		Joins("LEFT JOIN invoices i ON i.order_id = p.order_id").
		Where("p.status IN ?", []enums.PaymentStatus{enums.PaymentStatusValidated, enums.PaymentStatusArchived}).
		Where("p.validated_at < ?", settledBefore).
		Where("i.id IS NULL").
		Distinct().
		Limit(limit).
		Pluck("p.order_id", &ids).Error
	return ids, err
}
