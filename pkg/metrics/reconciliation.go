package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconciliationMetrics tracks the completion pipeline per trigger source.
type ReconciliationMetrics struct {
	completions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	claims      *prometheus.CounterVec
	orders      *prometheus.CounterVec
}

// NewReconciliationMetrics registers the pipeline metrics on reg. A nil
// registerer yields a no-op recorder.
func NewReconciliationMetrics(reg prometheus.Registerer) *ReconciliationMetrics {
	if reg == nil {
		return &ReconciliationMetrics{}
	}
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "completion_outcomes_total",
		Help:      "Completion attempts by trigger source and outcome.",
	}, []string{"source", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "completion_duration_seconds",
		Help:      "Time spent resolving a completion trigger.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliation_claims_total",
		Help:      "Claim attempts on reconciliation records by result.",
	}, []string{"result"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_materializations_total",
		Help:      "Order creation calls against the commerce backend by result.",
	}, []string{"result"})
	reg.MustRegister(completions, duration, claims, orders)
	return &ReconciliationMetrics{
		completions: completions,
		duration:    duration,
		claims:      claims,
		orders:      orders,
	}
}

// ObserveCompletion records one finished completion attempt.
func (m *ReconciliationMetrics) ObserveCompletion(source, outcome string, elapsed time.Duration) {
	if m == nil || m.completions == nil {
		return
	}
	m.completions.WithLabelValues(normalizeLabel(source), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(source)).Observe(elapsed.Seconds())
}

// IncClaim records whether a claim attempt won or lost.
func (m *ReconciliationMetrics) IncClaim(won bool) {
	if m == nil || m.claims == nil {
		return
	}
	result := "lost"
	if won {
		result = "won"
	}
	m.claims.WithLabelValues(result).Inc()
}

// IncMaterialization records the result of an order creation call.
func (m *ReconciliationMetrics) IncMaterialization(result string) {
	if m == nil || m.orders == nil {
		return
	}
	m.orders.WithLabelValues(normalizeLabel(result)).Inc()
}
