package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
)

const (
	defaultBackfillAge   = 2 * time.Minute
	defaultBackfillLimit = 200
)

type InvoiceBackfillJobParams struct {
	Logger   *logger.Logger
	Invoices invoiceBackfiller
	Metrics  *metrics.CronJobMetrics
	Age      time.Duration
	Limit    int
}

// NewInvoiceBackfillJob builds the job that archives invoices for settled
// orders whose post-validation generation failed.
func NewInvoiceBackfillJob(params InvoiceBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	age := params.Age
	if age <= 0 {
		age = defaultBackfillAge
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	return &invoiceBackfillJob{
		logg:     params.Logger,
		invoices: params.Invoices,
		metrics:  params.Metrics,
		age:      age,
		limit:    limit,
		now:      time.Now,
	}, nil
}

type invoiceBackfillJob struct {
	logg     *logger.Logger
	invoices invoiceBackfiller
	metrics  *metrics.CronJobMetrics
	age      time.Duration
	limit    int
	now      func() time.Time
}

func (j *invoiceBackfillJob) Name() string { return "invoice-backfill" }

// Run skips orders settled within the last age so it does not race the
// validation request that is still generating their invoice.
func (j *invoiceBackfillJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	orderIDs, err := j.invoices.ListOrdersMissingInvoice(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list orders missing invoice: %w", err)
	}

	var errs error
	created := 0
	for _, orderID := range orderIDs {
		_, isNew, err := j.invoices.Generate(ctx, orderID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", orderID, err))
			continue
		}
		if isNew {
			created++
			j.metrics.InvoiceBackfilled()
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(orderIDs),
		"created":    created,
		"cutoff":     cutoff,
	})
	j.logg.Info(logCtx, "invoice backfill complete")
	return errs
}
