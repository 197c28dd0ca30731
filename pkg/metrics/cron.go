package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for one auto-close sweep evaluation.
const (
	SweepClosed = "closed"
	SweepKept   = "kept_open"
	SweepFailed = "failed"
)

// CronJobMetrics records cron-worker runs and what the lifecycle jobs did
// during them.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	swept       *prometheus.CounterVec
	purged      *prometheus.CounterVec
	backfilled  prometheus.Counter
}

// NewCronJobMetrics registers the cron job metrics on the provided registerer.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job runs, by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron job runs in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run, by job.",
		}, []string{"job"}),
		swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_autoclose_sweep_total",
			Help: "Open sessions re-evaluated by the auto-close sweep, by outcome.",
		}, []string{"outcome"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_rows_purged_total",
			Help: "Rows removed by outbox retention, by table.",
		}, []string{"table"}),
		backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "invoice_backfill_generated_total",
			Help: "Invoices created by the backfill job.",
		}),
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.swept, m.purged, m.backfilled)
	return m
}

// ObserveRun records one finished run of job.
func (m *CronJobMetrics) ObserveRun(job string, duration time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, "failure").Inc()
		return
	}
	m.runs.WithLabelValues(job, "success").Inc()
	m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// SessionSwept counts one sweep evaluation with a Sweep* outcome.
func (m *CronJobMetrics) SessionSwept(outcome string) {
	if m == nil || m.swept == nil {
		return
	}
	m.swept.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *CronJobMetrics) RowsPurged(table string, rows int64) {
	if m == nil || m.purged == nil || rows <= 0 {
		return
	}
	m.purged.WithLabelValues(normalizeLabel(table)).Add(float64(rows))
}

func (m *CronJobMetrics) InvoiceBackfilled() {
	if m == nil || m.backfilled == nil {
		return
	}
	m.backfilled.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
