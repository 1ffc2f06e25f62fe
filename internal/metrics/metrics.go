// Package metrics provides Prometheus metrics for observability.
// Metrics are organized by domain: HTTP requests, publication transitions and sweeps.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quill"

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// Transition metrics - publish/unpublish results by artifact outcome
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publication",
			Name:      "transitions_total",
			Help:      "Publish and unpublish transitions by kind, action, and artifact outcome",
		},
		[]string{"kind", "action", "outcome"},
	)

	// Sweep metrics
	SweepRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "records_total",
			Help:      "Records visited by the build-time sweep by kind and result",
		},
		[]string{"kind", "result"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Build-time sweep duration in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Completed sweeps by status (clean or with_failures)",
		},
		[]string{"status"},
	)
)

// ObserveTransition records one publish or unpublish.
func ObserveTransition(kind, action, outcome string) {
	TransitionsTotal.WithLabelValues(kind, action, outcome).Inc()
}

// ObserveSweepRecord records the result for one visited record.
func ObserveSweepRecord(kind, result string) {
	SweepRecordsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveSweep records a finished sweep.
func ObserveSweep(elapsed time.Duration, failed int) {
	SweepDuration.Observe(elapsed.Seconds())
	status := "clean"
	if failed > 0 {
		status = "with_failures"
	}
	SweepRunsTotal.WithLabelValues(status).Inc()
}
