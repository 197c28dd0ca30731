package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/tableside-backend/pkg/metrics"
)

type fakeSweeper struct {
	candidates []uuid.UUID
	closable   map[uuid.UUID]bool
	broken     map[uuid.UUID]bool
	evaluated  []uuid.UUID
	cursors    []uuid.UUID
	listErr    error
}

// SweepCandidates pages through candidates in order, keyed by the last id.
func (f *fakeSweeper) SweepCandidates(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	f.cursors = append(f.cursors, after)
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := 0
	if after != uuid.Nil {
		for i, id := range f.candidates {
			if id == after {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(f.candidates) {
		end = len(f.candidates)
	}
	return f.candidates[start:end], nil
}

func (f *fakeSweeper) Evaluate(_ context.Context, id uuid.UUID) (bool, error) {
	f.evaluated = append(f.evaluated, id)
	if f.broken[id] {
		return false, errors.New("evaluate failed")
	}
	return f.closable[id], nil
}

func TestAutoCloseSweepJobAggregatesErrors(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	sweeper := &fakeSweeper{
		candidates: []uuid.UUID{a, b, c},
		closable:   map[uuid.UUID]bool{a: true},
		broken:     map[uuid.UUID]bool{b: true, c: true},
	}
	job, err := NewAutoCloseSweepJob(AutoCloseSweepJobParams{Logger: testLogger(), Evaluator: sweeper})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Len(t, sweeper.evaluated, 3)
}

func TestAutoCloseSweepJobCountsOutcomes(t *testing.T) {
	closed, kept, broken := uuid.New(), uuid.New(), uuid.New()
	sweeper := &fakeSweeper{
		candidates: []uuid.UUID{closed, kept, broken},
		closable:   map[uuid.UUID]bool{closed: true},
		broken:     map[uuid.UUID]bool{broken: true},
	}
	reg := prometheus.NewRegistry()
	job, err := NewAutoCloseSweepJob(AutoCloseSweepJobParams{
		Logger:    testLogger(),
		Evaluator: sweeper,
		Metrics:   metrics.NewCronJobMetrics(reg),
	})
	require.NoError(t, err)

	require.Error(t, job.Run(context.Background()))
	for _, outcome := range []string{metrics.SweepClosed, metrics.SweepKept, metrics.SweepFailed} {
		require.EqualValues(t, 1, counterValue(t, reg, "session_autoclose_sweep_total", "outcome", outcome), outcome)
	}
}

func TestAutoCloseSweepJobWalksPastSessionsThatStayOpen(t *testing.T) {
	stuck := []uuid.UUID{uuid.New(), uuid.New()}
	behind := uuid.New()
	sweeper := &fakeSweeper{
		candidates: append(append([]uuid.UUID{}, stuck...), behind),
		closable:   map[uuid.UUID]bool{behind: true},
	}
	job, err := NewAutoCloseSweepJob(AutoCloseSweepJobParams{Logger: testLogger(), Evaluator: sweeper, Limit: 2})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []uuid.UUID{stuck[0], stuck[1], behind}, sweeper.evaluated)
	require.Equal(t, []uuid.UUID{uuid.Nil, stuck[1]}, sweeper.cursors)
}

func TestAutoCloseSweepJobListFailure(t *testing.T) {
	sweeper := &fakeSweeper{listErr: errors.New("db down")}
	job, err := NewAutoCloseSweepJob(AutoCloseSweepJobParams{Logger: testLogger(), Evaluator: sweeper})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
	require.Empty(t, sweeper.evaluated)
}
