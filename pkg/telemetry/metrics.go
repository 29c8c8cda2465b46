package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for one invocation. When metrics
// are disabled every recorder is a no-op.
type Metrics struct {
	config MetricsConfig

	deploymentsTotal *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	runtimeCalls     *prometheus.CounterVec
	runtimeErrors    *prometheus.CounterVec
	reportSends      *prometheus.CounterVec
	runsCompleted    *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates the metric instruments on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "deployments_total",
				Help:      "Total deployment reconciliations by kind and result",
			},
			[]string{"kind", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "berth",
				Name:      "stage_duration_seconds",
				Help:      "Lifecycle stage duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind", "stage"},
		),
		runtimeCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "runtime_calls_total",
				Help:      "Total backing-runtime invocations",
			},
			[]string{"runtime", "operation"},
		),
		runtimeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "runtime_errors_total",
				Help:      "Total failed backing-runtime invocations",
			},
			[]string{"runtime", "operation"},
		),
		reportSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "report_sends_total",
				Help:      "Total deployment report deliveries by result",
			},
			[]string{"status"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "berth",
				Name:      "runs_completed_total",
				Help:      "Total orchestrator runs by final status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "berth",
				Name:      "run_duration_seconds",
				Help:      "Total run duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.deploymentsTotal,
		m.stageDuration,
		m.runtimeCalls,
		m.runtimeErrors,
		m.reportSends,
		m.runsCompleted,
		m.runDuration,
	)

	return m, nil
}

// RecordDeployment records one finished reconciliation.
func (m *Metrics) RecordDeployment(kind, status string) {
	if m.deploymentsTotal == nil {
		return
	}
	m.deploymentsTotal.WithLabelValues(kind, status).Inc()
}

// RecordStageDuration records one lifecycle stage.
func (m *Metrics) RecordStageDuration(kind, stage string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(kind, stage).Observe(duration.Seconds())
}

// RecordRuntimeCall records one backing-runtime invocation.
func (m *Metrics) RecordRuntimeCall(runtime, operation string) {
	if m.runtimeCalls == nil {
		return
	}
	m.runtimeCalls.WithLabelValues(runtime, operation).Inc()
}

// RecordRuntimeError records one failed backing-runtime invocation.
func (m *Metrics) RecordRuntimeError(runtime, operation string) {
	if m.runtimeErrors == nil {
		return
	}
	m.runtimeErrors.WithLabelValues(runtime, operation).Inc()
}

// RecordReportSend records one report delivery attempt.
func (m *Metrics) RecordReportSend(status string) {
	if m.reportSends == nil {
		return
	}
	m.reportSends.WithLabelValues(status).Inc()
}

// RecordRunCompleted records the finished run.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Timer times one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns the metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer exposes the registry over HTTP when a listen address is
// configured. Serving errors are reported but never fail the run.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
