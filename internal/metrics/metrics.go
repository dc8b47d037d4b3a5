// Package metrics exports the process's Prometheus collectors: job
// throughput and latency for the worker pool, oracle call volume and
// token spend, and HTTP server traffic. Each Metrics value owns a
// private registry, so constructing one never collides with another.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for terminal job observations.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeLostClaim = "lost_claim"
)

// Metrics holds every collector the process exports. Record methods are
// safe on a nil receiver, so components without metrics wired simply
// record nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	queueLag     prometheus.Histogram
	attempts     *prometheus.HistogramVec
	sweptTotal   prometheus.Counter

	oracleTotal    *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	tokensTotal    *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

// New builds the collector set with service stamped on every series as a
// constant label.
func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "processed_total",
			Help:        "Jobs driven to a terminal status, by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "process_duration_seconds",
			Help:        "Wall time from claim to terminal status, by outcome.",
			Buckets:     []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "in_flight",
			Help:        "Jobs currently being processed by this worker.",
			ConstLabels: constLabels,
		},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "queue_lag_seconds",
			Help:        "Delay between job submission and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	attempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "validation_attempts",
			Help:        "Attempts spent before an oracle response validated, by phase.",
			Buckets:     []float64{1, 2, 3},
			ConstLabels: constLabels,
		},
		[]string{"phase"},
	)
	sweptTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   "modelgen",
			Subsystem:   "jobs",
			Name:        "swept_total",
			Help:        "Stalled jobs failed by the watchdog.",
			ConstLabels: constLabels,
		},
	)

	oracleTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "modelgen",
			Subsystem:   "oracle",
			Name:        "requests_total",
			Help:        "Oracle API calls by phase and status, transport retries included.",
			ConstLabels: constLabels,
		},
		[]string{"phase", "status"},
	)
	oracleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "modelgen",
			Subsystem:   "oracle",
			Name:        "request_duration_seconds",
			Help:        "Oracle API call duration in seconds, by phase.",
			Buckets:     []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
			ConstLabels: constLabels,
		},
		[]string{"phase"},
	)
	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "modelgen",
			Subsystem:   "oracle",
			Name:        "tokens_total",
			Help:        "Token usage by direction.",
			ConstLabels: constLabels,
		},
		[]string{"direction"},
	)

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "modelgen",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests processed, by route template and status.",
			ConstLabels: constLabels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "modelgen",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "modelgen",
			Subsystem:   "http",
			Name:        "in_flight_requests",
			Help:        "HTTP requests currently being served.",
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(
		jobsTotal,
		jobDuration,
		jobsInFlight,
		queueLag,
		attempts,
		sweptTotal,
		oracleTotal,
		oracleDuration,
		tokensTotal,
		requestTotal,
		requestDuration,
		requestInFlight,
	)

	return &Metrics{
		registry:        registry,
		jobsTotal:       jobsTotal,
		jobDuration:     jobDuration,
		jobsInFlight:    jobsInFlight,
		queueLag:        queueLag,
		attempts:        attempts,
		sweptTotal:      sweptTotal,
		oracleTotal:     oracleTotal,
		oracleDuration:  oracleDuration,
		tokensTotal:     tokensTotal,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
}

// Handler serves this collector set in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// JobStarted marks one job as in flight.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished records a job leaving flight with its outcome and the wall
// time it took.
func (m *Metrics) JobFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveQueueLag records how long a job sat pending before a worker
// picked it up. Negative lag from clock skew is dropped.
func (m *Metrics) ObserveQueueLag(lag time.Duration) {
	if m == nil || lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

// ObserveAttempts records the validation attempts one phase spent before
// accepting an oracle response. Zero attempts means the phase was
// skipped and records nothing.
func (m *Metrics) ObserveAttempts(phase string, attempts int) {
	if m == nil || attempts <= 0 {
		return
	}
	m.attempts.WithLabelValues(phase).Observe(float64(attempts))
}

// JobSwept counts one stalled job failed by the watchdog.
func (m *Metrics) JobSwept() {
	if m == nil {
		return
	}
	m.sweptTotal.Inc()
}

// OracleCall records one oracle API call. The status label is derived
// from err, so transport retries show up as error-status requests.
func (m *Metrics) OracleCall(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.oracleTotal.WithLabelValues(phase, status).Inc()
	m.oracleDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// AddTokenUsage accrues token counts by direction. Non-positive counts
// are dropped.
func (m *Metrics) AddTokenUsage(in, out int) {
	if m == nil {
		return
	}
	if in > 0 {
		m.tokensTotal.WithLabelValues("in").Add(float64(in))
	}
	if out > 0 {
		m.tokensTotal.WithLabelValues("out").Add(float64(out))
	}
}
