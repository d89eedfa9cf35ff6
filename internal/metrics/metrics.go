// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	integrationCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_integration_calls_total",
			Help: "External calendar/video adapter calls by app, operation and outcome",
		},
		[]string{"app", "operation", "outcome"},
	)

	integrationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_integration_call_duration_seconds",
			Help:    "Latency of external adapter calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"app", "operation"},
	)

	bookingOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_operations_total",
			Help: "Booking operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)

	availabilityChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_availability_checks_total",
			Help: "Per-host availability decisions",
		},
		[]string{"outcome"},
	)

	credentialCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_credential_cache_total",
			Help: "Credential read-through cache lookups",
		},
		[]string{"result"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_worker_jobs_total",
			Help: "Background jobs processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)
)

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// ObserveIntegration records one adapter call.
func ObserveIntegration(app, operation string, started time.Time, err error) {
	integrationCalls.WithLabelValues(app, operation, outcome(err)).Inc()
	integrationLatency.WithLabelValues(app, operation).Observe(time.Since(started).Seconds())
}

// ObserveBooking records the result of a booking operation (create, reschedule, cancel, ...).
func ObserveBooking(operation string, err error) {
	bookingOperations.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveAvailability records whether a host was kept or excluded.
func ObserveAvailability(available bool) {
	if available {
		availabilityChecks.WithLabelValues("available").Inc()
		return
	}
	availabilityChecks.WithLabelValues("excluded").Inc()
}

// ObserveCredentialCache records a cache hit or miss.
func ObserveCredentialCache(hit bool) {
	if hit {
		credentialCache.WithLabelValues("hit").Inc()
		return
	}
	credentialCache.WithLabelValues("miss").Inc()
}

// ObserveJob records a processed worker job.
func ObserveJob(jobType string, err error) {
	jobsProcessed.WithLabelValues(jobType, outcome(err)).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
