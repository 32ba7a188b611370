// Package metrics exposes Prometheus metrics for the lifecycle manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all lifecycle metrics. Construct one per registry so tests
// can use isolated registries.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Repairs         prometheus.Counter
	Promotions      prometheus.Counter
	ResolveFailures prometheus.Counter
	RetryAttempts   prometheus.Counter
	ResolveDuration prometheus.Histogram
}

// New creates and registers all lifecycle metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agrimitra_lifecycle_transitions_total",
			Help: "Lifecycle state transitions by target phase",
		}, []string{"phase"}),
		Repairs: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrimitra_profile_repairs_total",
			Help: "Profiles lazily created by the repair engine",
		}),
		Promotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrimitra_role_promotions_total",
			Help: "Admin role promotions applied on resolve",
		}),
		ResolveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrimitra_resolve_failures_total",
			Help: "Profile resolutions that ended in a terminal error",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "agrimitra_remote_retry_attempts_total",
			Help: "Failed remote attempts that were retried",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "agrimitra_resolve_duration_seconds",
			Help:    "End-to-end duration of profile resolution",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
