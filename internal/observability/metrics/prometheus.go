// Package metrics provides Prometheus metrics for the adjudication engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	ClaimsAdjudicated   *prometheus.CounterVec
	DURAlertsFired      *prometheus.CounterVec
	OverridesRecorded   prometheus.Counter
	PriorAuthDecisions  *prometheus.CounterVec
	AdjudicationLatency prometheus.Histogram
	ClaimsConsumed      prometheus.Counter
	DecisionsPublished  prometheus.Counter
	BatchQueueDepth     prometheus.Gauge
	RulesSnapshotSwaps  prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		ClaimsAdjudicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claims_adjudicated_total",
			Help: "Total claims adjudicated by outcome",
		}, []string{"outcome"}),
		DURAlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dur_alerts_fired_total",
			Help: "Total DUR alerts fired by type",
		}, []string{"type"}),
		OverridesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dur_overrides_recorded_total",
			Help: "Total pharmacist overrides recorded",
		}),
		PriorAuthDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prior_auth_decisions_total",
			Help: "Total prior authorization determinations by status",
		}, []string{"status"}),
		AdjudicationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "claim_adjudication_duration_seconds",
			Help:    "Claim adjudication duration",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		ClaimsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "claims_consumed_total",
			Help: "Total claims consumed from the claims topic",
		}),
		DecisionsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "decisions_published_total",
			Help: "Total adjudication decisions published",
		}),
		BatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "batch_queue_depth",
			Help: "Claims waiting in the batch adjudication queue",
		}),
		RulesSnapshotSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rules_snapshot_swaps_total",
			Help: "Total rule snapshot reloads",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.ClaimsAdjudicated,
		m.DURAlertsFired,
		m.OverridesRecorded,
		m.PriorAuthDecisions,
		m.AdjudicationLatency,
		m.ClaimsConsumed,
		m.DecisionsPublished,
		m.BatchQueueDepth,
		m.RulesSnapshotSwaps,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
