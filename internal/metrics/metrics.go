// Package metrics registers the Prometheus collectors of the checkout engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "travel"

type Metrics struct {
	Checkouts         *prometheus.CounterVec
	LineOutcomes      *prometheus.CounterVec
	ConnectorCalls    *prometheus.CounterVec
	ConnectorLatency  *prometheus.HistogramVec
	PaymentTransfers  *prometheus.CounterVec
	Compensations     *prometheus.CounterVec
	Cancellations     *prometheus.CounterVec
	PlanRequests      prometheus.Counter
	PlanBuildDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered, which keeps tests hermetic.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "total",
			Help: "Checkouts processed, by final status.",
		}, []string{"status"}),
		LineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "line_outcomes_total",
			Help: "Cart line outcomes, by product kind and status.",
		}, []string{"kind", "status"}),
		ConnectorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connector", Name: "calls_total",
			Help: "Provider calls, by kind, operation, protocol family and result class.",
		}, []string{"kind", "op", "family", "result"}),
		ConnectorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "connector", Name: "call_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "op", "family"}),
		PaymentTransfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "payment", Name: "transfers_total",
			Help: "Bank transfers, by direction (debit, refund) and result.",
		}, []string{"direction", "result"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "checkout", Name: "compensations_total",
			Help: "Compensating cancellations, by result (cancelled, stuck).",
		}, []string{"result"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cancellation", Name: "total",
			Help: "Customer cancellations, by result.",
		}, []string{"result"}),
		PlanRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "plan", Name: "requests_total",
			Help: "Checkout plans requested.",
		}),
		PlanBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "plan", Name: "build_duration_seconds",
			Help:    "Time spent building checkout plans.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Checkouts, m.LineOutcomes, m.ConnectorCalls, m.ConnectorLatency,
			m.PaymentTransfers, m.Compensations, m.Cancellations,
			m.PlanRequests, m.PlanBuildDuration,
		)
	}
	return m
}

// NewNop returns unregistered collectors.
func NewNop() *Metrics { return New(nil) }

func (m *Metrics) ObserveCall(kind, op, family, result string, elapsed time.Duration) {
	m.ConnectorCalls.WithLabelValues(kind, op, family, result).Inc()
	m.ConnectorLatency.WithLabelValues(kind, op, family).Observe(elapsed.Seconds())
}

func (m *Metrics) Transfer(direction string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PaymentTransfers.WithLabelValues(direction, result).Inc()
}
