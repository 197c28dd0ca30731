package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics counts session, order and payment transitions.
type LifecycleMetrics struct {
	sessionsOpened    prometheus.Counter
	sessionsClosed    *prometheus.CounterVec
	ordersSent        prometheus.Counter
	stockConflicts    prometheus.Counter
	paymentsValidated *prometheus.CounterVec
	invoices          *prometheus.CounterVec
}

// NewLifecycleMetrics registers the lifecycle counters on reg. A nil
// registerer yields a no-op recorder.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	m := &LifecycleMetrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessions_opened_total",
			Help: "Table sessions opened.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessions_closed_total",
			Help: "Table sessions closed, by reason.",
		}, []string{"reason"}),
		ordersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_sent_total",
			Help: "Orders handed to the kitchen.",
		}),
		stockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_stock_conflicts_total",
			Help: "Kitchen hand-offs rejected for insufficient stock.",
		}),
		paymentsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_validated_total",
			Help: "Payments validated, by path.",
		}, []string{"path"}),
		invoices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_generation_total",
			Help: "Invoice generation attempts, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.sessionsOpened, m.sessionsClosed, m.ordersSent, m.stockConflicts, m.paymentsValidated, m.invoices)
	return m
}

func (m *LifecycleMetrics) SessionOpened() {
	if m == nil || m.sessionsOpened == nil {
		return
	}
	m.sessionsOpened.Inc()
}

func (m *LifecycleMetrics) SessionClosed(reason string) {
	if m == nil || m.sessionsClosed == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *LifecycleMetrics) OrderSent() {
	if m == nil || m.ordersSent == nil {
		return
	}
	m.ordersSent.Inc()
}

func (m *LifecycleMetrics) StockConflict() {
	if m == nil || m.stockConflicts == nil {
		return
	}
	m.stockConflicts.Inc()
}

// PaymentValidated records a winning validation; path is "code" or "id".
func (m *LifecycleMetrics) PaymentValidated(path string) {
	if m == nil || m.paymentsValidated == nil {
		return
	}
	m.paymentsValidated.WithLabelValues(normalizeLabel(path)).Inc()
}

// InvoiceOutcome records "created", "existing" or "failed".
func (m *LifecycleMetrics) InvoiceOutcome(outcome string) {
	if m == nil || m.invoices == nil {
		return
	}
	m.invoices.WithLabelValues(normalizeLabel(outcome)).Inc()
}
