package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator.
type Metrics struct {
	config MetricsConfig

	// Stage metrics
	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	// Resource lifecycle metrics
	resourceOps    *prometheus.CounterVec
	resourceErrors *prometheus.CounterVec

	// Health gate metrics
	gateWaits    *prometheus.HistogramVec
	gateTimeouts *prometheus.CounterVec

	// Supervisor metrics
	tasksSpawned  *prometheus.CounterVec
	activeSession prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance: every record method checks the registry.
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		stagesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_executed_total",
			Help:      "Provisioning stages executed, by stage name and outcome.",
		}, []string{"stage", "outcome"}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of provisioning stages.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),

		resourceOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_operations_total",
			Help:      "Resource lifecycle operations, by kind and operation.",
		}, []string{"kind", "operation"}),

		resourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_errors_total",
			Help:      "Failed resource lifecycle operations, by kind.",
		}, []string{"kind"}),

		gateWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_gate_wait_seconds",
			Help:      "Time spent waiting on health gates.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"check"}),

		gateTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_gate_timeouts_total",
			Help:      "Health gates that reached their timeout.",
		}, []string{"check"}),

		tasksSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_spawned_total",
			Help:      "Supervised tasks spawned, by session.",
		}, []string{"session"}),

		activeSession: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_session",
			Help:      "1 while a supervision session owned by this run is active.",
		}),

		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Classified orchestration errors.",
		}, []string{"class"}),
	}

	registry.MustRegister(
		m.stagesExecuted,
		m.stageDuration,
		m.resourceOps,
		m.resourceErrors,
		m.gateWaits,
		m.gateTimeouts,
		m.tasksSpawned,
		m.activeSession,
		m.errorsByClass,
	)

	return m, nil
}

// Serve starts the metrics HTTP endpoint. It returns immediately; the server
// runs until Close is called.
func (m *Metrics) Serve() error {
	if m.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = m.server.ListenAndServe()
	}()

	return nil
}

// Close shuts down the metrics endpoint.
func (m *Metrics) Close() error {
	if m.server != nil {
		return m.server.Close()
	}
	return nil
}

// RecordStage records a completed stage execution.
func (m *Metrics) RecordStage(stage, outcome string, duration time.Duration) {
	if m.registry == nil {
		return
	}
	m.stagesExecuted.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordResourceOp records a resource lifecycle operation.
func (m *Metrics) RecordResourceOp(kind, operation string) {
	if m.registry == nil {
		return
	}
	m.resourceOps.WithLabelValues(kind, operation).Inc()
}

// RecordResourceError records a failed resource lifecycle operation.
func (m *Metrics) RecordResourceError(kind string) {
	if m.registry == nil {
		return
	}
	m.resourceErrors.WithLabelValues(kind).Inc()
}

// RecordGateWait records time spent waiting on a health gate.
func (m *Metrics) RecordGateWait(check string, wait time.Duration) {
	if m.registry == nil {
		return
	}
	m.gateWaits.WithLabelValues(check).Observe(wait.Seconds())
}

// RecordGateTimeout records a health gate timeout.
func (m *Metrics) RecordGateTimeout(check string) {
	if m.registry == nil {
		return
	}
	m.gateTimeouts.WithLabelValues(check).Inc()
}

// RecordTaskSpawned records a spawned supervised task.
func (m *Metrics) RecordTaskSpawned(session string) {
	if m.registry == nil {
		return
	}
	m.tasksSpawned.WithLabelValues(session).Inc()
}

// SetSessionActive sets the active-session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if m.registry == nil {
		return
	}
	if active {
		m.activeSession.Set(1)
	} else {
		m.activeSession.Set(0)
	}
}

// RecordError records a classified orchestration error.
func (m *Metrics) RecordError(class string) {
	if m.registry == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}
