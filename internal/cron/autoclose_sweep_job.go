package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
)

const defaultSweepLimit = 200

type AutoCloseSweepJobParams struct {
	Logger    *logger.Logger
	Evaluator sessionSweeper
	Metrics   *metrics.CronJobMetrics
	Limit     int
}

// NewAutoCloseSweepJob builds the job that re-evaluates open sessions whose
// last validation did not get to close them.
func NewAutoCloseSweepJob(params AutoCloseSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Evaluator == nil {
		return nil, fmt.Errorf("auto-close evaluator required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return &autoCloseSweepJob{
		logg:      params.Logger,
		evaluator: params.Evaluator,
		metrics:   params.Metrics,
		limit:     limit,
	}, nil
}

type autoCloseSweepJob struct {
	logg      *logger.Logger
	evaluator sessionSweeper
	metrics   *metrics.CronJobMetrics
	limit     int
}

func (j *autoCloseSweepJob) Name() string { return "session-autoclose-sweep" }

// Run walks every candidate page once. Sessions that stay open are passed by
// the cursor, so they cannot starve the ones behind them.
func (j *autoCloseSweepJob) Run(ctx context.Context) error {
	var errs error
	candidates, closed := 0, 0
	after := uuid.Nil
	for {
		page, err := j.evaluator.SweepCandidates(ctx, after, j.limit)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list sweep candidates: %w", err))
		}
		for _, id := range page {
			ok, err := j.evaluator.Evaluate(ctx, id)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("session %s: %w", id, err))
				j.metrics.SessionSwept(metrics.SweepFailed)
				continue
			}
			if !ok {
				j.metrics.SessionSwept(metrics.SweepKept)
				continue
			}
			closed++
			j.metrics.SessionSwept(metrics.SweepClosed)
		}
		candidates += len(page)
		if len(page) < j.limit || ctx.Err() != nil {
			break
		}
		after = page[len(page)-1]
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": candidates,
		"closed":     closed,
	})
	j.logg.Info(logCtx, "auto-close sweep complete")
	return errs
}
