// Package metrics holds the Prometheus collectors of the attempt tracking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptOperations counts lifecycle operations by outcome
	AttemptOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attempt_operations_total",
		Help: "Attempt lifecycle operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// AttemptOperationDuration tracks store round trips per operation
	AttemptOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attempt_operation_duration_seconds",
		Help:    "Attempt lifecycle operation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	}, []string{"operation"})

	// AbuseFlags counts newly raised abuse reasons
	AbuseFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attempt_flags_total",
		Help: "Abuse reasons newly raised on attempts",
	}, []string{"reason"})

	// CacheRequests counts side cache calls by result (hit, miss, error, rejected, ok)
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attempt_cache_requests_total",
		Help: "Side cache requests by operation and result",
	}, []string{"operation", "result"})

	// CacheBreakerState is 0 closed, 1 open, 2 half-open
	CacheBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "attempt_cache_breaker_state",
		Help: "Side cache circuit breaker state (0 closed, 1 open, 2 half-open)",
	})

	// SweepTransitions counts attempts moved to a terminal status by the sweeper
	SweepTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "attempt_sweep_transitions_total",
		Help: "Attempts transitioned by the expiry sweep",
	}, []string{"status"})
)

// ObserveOperation records one lifecycle operation
func ObserveOperation(operation, outcome string, started time.Time) {
	AttemptOperations.WithLabelValues(operation, outcome).Inc()
	AttemptOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
