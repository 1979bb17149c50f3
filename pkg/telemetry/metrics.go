package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for configuration loads.
type Metrics struct {
	config MetricsConfig

	// Load metrics
	loadsTotal   *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	diagnostics  prometheus.Counter

	// Error metrics
	errorsByCode *prometheus.CounterVec

	// Check metrics
	findings *prometheus.CounterVec

	// Watch metrics
	reloads       *prometheus.CounterVec
	activeWatches prometheus.Gauge

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

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		loadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loads_total",
				Help:      "Total number of configuration loads",
			},
			[]string{"status"},
		),
		loadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "load_duration_seconds",
				Help:      "Duration of configuration loads in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		diagnostics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "diagnostics_total",
				Help:      "Total number of diagnostics reported while parsing",
			},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of failed loads by error code",
			},
			[]string{"code"},
		),
		findings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_total",
				Help:      "Total number of policy and constraint findings in loaded trees",
			},
			[]string{"checker", "severity"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Total number of reloads triggered by file changes",
			},
			[]string{"status"},
		),
		activeWatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_watches",
				Help:      "Current number of watched configuration files",
			},
		),
	}

	registry.MustRegister(
		m.loadsTotal,
		m.loadDuration,
		m.diagnostics,
		m.errorsByCode,
		m.findings,
		m.reloads,
		m.activeWatches,
	)

	return m, nil
}

// RecordLoad records a finished load. code is empty for successful loads.
func (m *Metrics) RecordLoad(code string, duration time.Duration, diagnostics int) {
	if m.loadsTotal == nil {
		return
	}
	status := "succeeded"
	if code != "" {
		status = "failed"
		m.errorsByCode.WithLabelValues(code).Inc()
	}
	m.loadsTotal.WithLabelValues(status).Inc()
	m.loadDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.diagnostics.Add(float64(diagnostics))
}

// RecordFinding records one finding of a checker.
func (m *Metrics) RecordFinding(checker, severity string) {
	if m.findings == nil {
		return
	}
	m.findings.WithLabelValues(checker, severity).Inc()
}

// RecordReload records a reload triggered by a file change.
func (m *Metrics) RecordReload(ok bool) {
	if m.reloads == nil {
		return
	}
	status := "succeeded"
	if !ok {
		status = "failed"
	}
	m.reloads.WithLabelValues(status).Inc()
}

// AddActiveWatches adjusts the number of watched files.
func (m *Metrics) AddActiveWatches(delta float64) {
	if m.activeWatches == nil {
		return
	}
	m.activeWatches.Add(delta)
}

// Registry returns the registry the metrics are registered with, or nil
// when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It returns
// nil without serving when no listen address is configured.
func (m *Metrics) StartMetricsServer() (*http.Server, error) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Log error but don't fail the application
			log.Error().Err(err).Str("address", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return server, nil
}
