package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tableside-backend/pkg/logger"
	"github.com/angelmondragon/tableside-backend/pkg/metrics"
)

const (
	defaultRetentionDays = 30
	// parked events outlive delivered ones so operators can replay them
	defaultDeadLetterRetentionDays = 90
	// unpublished rows are purged only once they exhausted their attempts
	defaultRetentionMinAttempts = 10
)

type OutboxRetentionJobParams struct {
	Logger                  *logger.Logger
	DB                      txRunner
	Repository              outboxRetentionRepo
	DeadLetters             deadLetterPurger
	Metrics                 *metrics.CronJobMetrics
	RetentionDays           int
	DeadLetterRetentionDays int
	MinAttempts             int
}

// NewOutboxRetentionJob builds the job that purges delivered lifecycle events
// and, when DeadLetters is set, expired parked events.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	dlqDays := params.DeadLetterRetentionDays
	if dlqDays <= 0 {
		dlqDays = defaultDeadLetterRetentionDays
	}
	if dlqDays < days {
		return nil, fmt.Errorf("dead letter retention (%dd) shorter than outbox retention (%dd)", dlqDays, days)
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = defaultRetentionMinAttempts
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		deadLetters:  params.DeadLetters,
		metrics:      params.Metrics,
		retention:    time.Duration(days) * 24 * time.Hour,
		dlqRetention: time.Duration(dlqDays) * 24 * time.Hour,
		minAttempts:  minAttempts,
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxRetentionRepo
	deadLetters  deadLetterPurger
	metrics      *metrics.CronJobMetrics
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)
	var deleted, parkedDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		if err != nil {
			return fmt.Errorf("purge published outbox rows: %w", err)
		}
		deleted = rows
		if j.deadLetters == nil {
			return nil
		}
		rows, err = j.deadLetters.PurgeBefore(ctx, tx, dlqCutoff)
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
		parkedDeleted = rows
		return nil
	})
	if err != nil {
		return err
	}
	j.metrics.RowsPurged("outbox_events", deleted)
	j.metrics.RowsPurged("outbox_dlq", parkedDeleted)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"dlq_cutoff":       dlqCutoff,
		"rows_deleted":     deleted,
		"dlq_rows_deleted": parkedDeleted,
	}), "outbox retention complete")
	return nil
}
