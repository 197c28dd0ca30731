package cron

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/db/models"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type invoiceBackfiller interface {
	ListOrdersMissingInvoice(ctx context.Context, settledBefore time.Time, limit int) ([]uuid.UUID, error)
	Generate(ctx context.Context, orderID uuid.UUID) (*models.Invoice, bool, error)
}

type sessionSweeper interface {
	SweepCandidates(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	Evaluate(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type deadLetterPurger interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}
