package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the convergence loop and daemon.
type Metrics struct {
	registry      *prometheus.Registry
	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	RunAttempts   *prometheus.HistogramVec
	Generations   *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Retries       *prometheus.CounterVec
	ActiveSession *prometheus.GaugeVec
	TransportErrs *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with loop collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testpilot_runs_total",
		Help: "Finished convergence runs by status and reason",
	}, []string{"status", "reason"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testpilot_run_duration_seconds",
		Help:    "Convergence run duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"status"})

	attempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testpilot_run_attempts",
		Help:    "Attempts consumed per convergence run",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	}, []string{"status"})

	gens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testpilot_generations_total",
		Help: "Generation requests by mode and result",
	}, []string{"mode", "result"})

	verifs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testpilot_verifications_total",
		Help: "Verification outcomes by kind",
	}, []string{"outcome"})

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testpilot_generation_retries_total",
		Help: "Retried remote calls by endpoint",
	}, []string{"endpoint"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "testpilot_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testpilot_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(runs, durs, attempts, gens, verifs, retries, active, trErrors)

	return &Metrics{
		registry:      reg,
		Runs:          runs,
		RunDuration:   durs,
		RunAttempts:   attempts,
		Generations:   gens,
		Verifications: verifs,
		Retries:       retries,
		ActiveSession: active,
		TransportErrs: trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a finished convergence run.
func (m *Metrics) RecordRun(status, reason string, duration time.Duration, attempts int) {
	if m == nil {
		return
	}
	status = orUnknown(status)
	if reason == "" {
		reason = "none"
	}
	m.Runs.WithLabelValues(status, reason).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.RunAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordGeneration counts one generation request.
func (m *Metrics) RecordGeneration(mode, result string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(orUnknown(mode), orUnknown(result)).Inc()
}

// RecordVerification counts one verification outcome.
func (m *Metrics) RecordVerification(kind string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(orUnknown(kind)).Inc()
}

// RecordRetry counts one retried remote call.
func (m *Metrics) RecordRetry(endpoint string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(orUnknown(endpoint)).Inc()
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
