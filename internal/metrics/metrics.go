// Package metrics holds the Prometheus collectors for the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "utmrelay"

var (
	// MessagesTotal counts chat messages by pipeline outcome.
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "messages_total",
			Help:      "Chat messages handled, by outcome.",
		},
		[]string{"outcome"},
	)

	CorrelationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "correlations_total",
			Help:      "Sale correlations, by the tier that produced the match.",
		},
		[]string{"tier"},
	)

	ManualSalesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "manual_sales_total",
			Help:      "Sales reported over HTTP, by outcome.",
		},
		[]string{"outcome"},
	)

	ForwardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forwards_total",
			Help:      "Calls to the order API, by result.",
		},
		[]string{"result"},
	)

	ForwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "forward_duration_seconds",
			Help:      "Latency of calls to the order API.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	AttributionIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attribution_ingested_total",
			Help:      "Attribution events received on the ingest endpoint, by result.",
		},
		[]string{"result"},
	)

	AttributionPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "attribution_purged_total",
			Help:      "Attribution records deleted by the retention sweeper.",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// Register adds the relay collectors to the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MessagesTotal,
			CorrelationsTotal,
			ManualSalesTotal,
			ForwardsTotal,
			ForwardDuration,
			AttributionIngested,
			AttributionPurged,
			CircuitBreakerState,
		)
	})
}
