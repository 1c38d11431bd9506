package metrics

import "github.com/prometheus/client_golang/prometheus"

// CheckoutMetrics counts checkout attempts by payment method and outcome.
type CheckoutMetrics struct {
	attempts *prometheus.CounterVec
}

// NewCheckoutMetrics registers checkout counters on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_total",
		Help:      "Checkout attempts by payment method and outcome.",
	}, []string{"method", "outcome"})
	reg.MustRegister(attempts)
	return &CheckoutMetrics{attempts: attempts}
}

// Observe records one checkout attempt.
func (c *CheckoutMetrics) Observe(method, outcome string) {
	if c == nil || c.attempts == nil {
		return
	}
	c.attempts.WithLabelValues(normalizeLabel(method), normalizeLabel(outcome)).Inc()
}

// ReconciliationMetrics counts payment notifications by kind and outcome.
type ReconciliationMetrics struct {
	events *prometheus.CounterVec
}

// NewReconciliationMetrics registers reconciliation counters.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_events_total",
		Help:      "Payment notifications by kind and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(events)
	return &ReconciliationMetrics{events: events}
}

// Observe records one handled notification.
func (r *ReconciliationMetrics) Observe(kind, outcome string) {
	if r == nil || r.events == nil {
		return
	}
	r.events.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// LedgerMetrics counts inventory invariant violations, which indicate an
// upstream bookkeeping defect and should page someone.
type LedgerMetrics struct {
	violations *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger violation counter.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	violations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_invariant_violations_total",
		Help:      "Release or commit requests exceeding the reserved quantity.",
	}, []string{"op"})
	reg.MustRegister(violations)
	return &LedgerMetrics{violations: violations}
}

// IncViolation records a clamped ledger operation.
func (l *LedgerMetrics) IncViolation(op string) {
	if l == nil || l.violations == nil {
		return
	}
	l.violations.WithLabelValues(normalizeLabel(op)).Inc()
}

// BreakerMetrics exposes circuit breaker state (0=closed, 1=open, 2=half-open).
type BreakerMetrics struct {
	state *prometheus.GaugeVec
}

// NewBreakerMetrics registers the breaker state gauge.
func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	if reg == nil {
		return &BreakerMetrics{}
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open.",
	}, []string{"name"})
	reg.MustRegister(state)
	return &BreakerMetrics{state: state}
}

// SetState records the current breaker state.
func (b *BreakerMetrics) SetState(name string, value float64) {
	if b == nil || b.state == nil {
		return
	}
	b.state.WithLabelValues(normalizeLabel(name)).Set(value)
}

// OutboxMetrics counts outbox rows by event type and publish outcome.
type OutboxMetrics struct {
	rows *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox publish counter.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_rows_total",
		Help:      "Outbox rows by event type and outcome (published, retry, dead_letter).",
	}, []string{"event_type", "outcome"})
	reg.MustRegister(rows)
	return &OutboxMetrics{rows: rows}
}

// Observe records one processed outbox row.
func (o *OutboxMetrics) Observe(eventType, outcome string) {
	if o == nil || o.rows == nil {
		return
	}
	o.rows.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}
