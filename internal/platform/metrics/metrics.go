package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the resolver.
type Metrics struct {
	NeedsResolved  *prometheus.CounterVec
	NeedsIgnored   prometheus.Counter
	NeedsFailed    *prometheus.CounterVec
	LookupDuration prometheus.Histogram
	TokenRefreshes prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		NeedsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inntekt_needs_resolved_total",
			Help: "Needs answered with a published solution, by capability",
		}, []string{"capability"}),
		NeedsIgnored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inntekt_needs_ignored_total",
			Help: "Messages skipped as not addressed to this resolver",
		}),
		NeedsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "inntekt_needs_failed_total",
			Help: "Needs that failed terminally, by failure reason",
		}, []string{"reason"}),
		LookupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "inntekt_registry_lookup_duration_seconds",
			Help:    "Latency of income registry lookups",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		TokenRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "inntekt_token_refreshes_total",
			Help: "Bearer token refreshes against the identity endpoint",
		}),
	}
}
