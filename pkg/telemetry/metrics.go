package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for codeseeder.
type Metrics struct {
	config MetricsConfig

	// Remote call metrics
	callsStarted   *prometheus.CounterVec
	callsCompleted *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec

	// Pipeline step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Build phase metrics
	phaseTransitions *prometheus.CounterVec

	// Seedkit metrics
	seedkitOperations *prometheus.CounterVec

	// AWS call metrics
	awsCalls    *prometheus.CounterVec
	awsDuration *prometheus.HistogramVec
	awsErrors   *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Bundle metrics
	bundleBytes prometheus.Histogram

	// System metrics
	activeCalls prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Remote call metrics
		callsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_started_total",
				Help:      "Total number of remote calls started",
			},
			[]string{"seedkit"},
		),
		callsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_completed_total",
				Help:      "Total number of remote calls completed",
			},
			[]string{"seedkit", "status"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "End-to-end duration of remote calls in seconds",
				Buckets:   buckets,
			},
			[]string{"seedkit", "status"},
		),

		// Pipeline step metrics
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of pipeline steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of pipeline steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step"},
		),

		// Build phase metrics
		phaseTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of observed build phase transitions",
			},
			[]string{"phase", "status"},
		),

		// Seedkit metrics
		seedkitOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "seedkit_operations_total",
				Help:      "Total number of seedkit stack operations",
			},
			[]string{"operation", "status"},
		),

		// AWS call metrics
		awsCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aws_calls_total",
				Help:      "Total number of AWS API calls",
			},
			[]string{"service", "operation"},
		),
		awsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aws_call_duration_seconds",
				Help:      "Duration of AWS API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"service", "operation"},
		),
		awsErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aws_errors_total",
				Help:      "Total number of AWS API errors",
			},
			[]string{"service", "operation"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		// Bundle metrics
		bundleBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bundle_size_bytes",
				Help:      "Size of built bundles in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		// System metrics
		activeCalls: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_calls",
				Help:      "Current number of in-flight remote calls",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.callsStarted,
		m.callsCompleted,
		m.callDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.phaseTransitions,
		m.seedkitOperations,
		m.awsCalls,
		m.awsDuration,
		m.awsErrors,
		m.errorsByClass,
		m.errorsByCode,
		m.bundleBytes,
		m.activeCalls,
	)

	return m, nil
}

// Remote Call Metrics

// RecordCallStarted increments the counter for started remote calls.
func (m *Metrics) RecordCallStarted(seedkit string) {
	if m.callsStarted == nil {
		return
	}
	m.callsStarted.WithLabelValues(seedkit).Inc()
	m.activeCalls.Inc()
}

// RecordCallCompleted records a completed remote call with its status and
// duration.
func (m *Metrics) RecordCallCompleted(seedkit, status string, duration time.Duration) {
	if m.callsCompleted == nil {
		return
	}
	m.callsCompleted.WithLabelValues(seedkit, status).Inc()
	m.callDuration.WithLabelValues(seedkit, status).Observe(duration.Seconds())
	m.activeCalls.Dec()
}

// Pipeline Step Metrics

// RecordStepExecution records the execution of one pipeline step.
func (m *Metrics) RecordStepExecution(step, status string, duration time.Duration) {
	if m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// Build Phase Metrics

// RecordPhaseTransition records an observed build phase transition.
func (m *Metrics) RecordPhaseTransition(phase, status string) {
	if m.phaseTransitions == nil {
		return
	}
	m.phaseTransitions.WithLabelValues(phase, status).Inc()
}

// Seedkit Metrics

// RecordSeedkitOperation records a seedkit stack operation.
func (m *Metrics) RecordSeedkitOperation(operation, status string) {
	if m.seedkitOperations == nil {
		return
	}
	m.seedkitOperations.WithLabelValues(operation, status).Inc()
}

// AWS Metrics

// RecordAWSCall records an AWS API call with its duration.
func (m *Metrics) RecordAWSCall(service, operation string, duration time.Duration) {
	if m.awsCalls == nil {
		return
	}
	m.awsCalls.WithLabelValues(service, operation).Inc()
	m.awsDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordAWSError records an AWS API error.
func (m *Metrics) RecordAWSError(service, operation string) {
	if m.awsErrors == nil {
		return
	}
	m.awsErrors.WithLabelValues(service, operation).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Bundle Metrics

// RecordBundleSize records the size of a built bundle.
func (m *Metrics) RecordBundleSize(bytes int64) {
	if m.bundleBytes == nil {
		return
	}
	m.bundleBytes.Observe(float64(bytes))
}

// System Metrics

// SetActiveCalls sets the current number of in-flight remote calls.
func (m *Metrics) SetActiveCalls(count float64) {
	if m.activeCalls == nil {
		return
	}
	m.activeCalls.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
