package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for a simulation session. A Metrics
// built from a disabled config is a valid no-op.
type Metrics struct {
	config MetricsConfig

	// Fleet gauges, refreshed from every snapshot
	uptime          prometheus.Gauge
	workers         *prometheus.GaugeVec
	activeIncidents *prometheus.GaugeVec
	day             prometheus.Gauge

	// Lifecycle counters
	incidentsCreated  *prometheus.CounterVec
	incidentsResolved *prometheus.CounterVec
	actions           *prometheus.CounterVec
	ticks             prometheus.Counter
	guardrailDenials  *prometheus.CounterVec
	errorsByClass     *prometheus.CounterVec

	dispatchDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DispatchBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_percent",
			Help:      "Current fleet uptime score",
		}),
		workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Workers by status",
		}, []string{"status"}),
		activeIncidents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_incidents",
			Help:      "Unresolved incidents by severity",
		}, []string{"severity"}),
		day: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sim_day",
			Help:      "Current simulated day",
		}),

		incidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents created by type",
		}, []string{"type"}),
		incidentsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_resolved_total",
			Help:      "Incidents resolved by type",
		}, []string{"type"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Player actions by intent and feedback outcome",
		}, []string{"intent", "outcome"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulation ticks applied",
		}),
		guardrailDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_violations_total",
			Help:      "Guardrail violations by policy and severity",
		}, []string{"policy", "severity"}),
		errorsByClass: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Infrastructure errors by class",
		}, []string{"class"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent reducing one intent",
			Buckets:   buckets,
		}, []string{"intent"}),
	}

	registry.MustRegister(
		m.uptime,
		m.workers,
		m.activeIncidents,
		m.day,
		m.incidentsCreated,
		m.incidentsResolved,
		m.actions,
		m.ticks,
		m.guardrailDenials,
		m.errorsByClass,
		m.dispatchDuration,
	)

	return m, nil
}

// Fleet gauges

// SetUptime records the current uptime score.
func (m *Metrics) SetUptime(v float64) {
	if m.uptime == nil {
		return
	}
	m.uptime.Set(v)
}

// SetDay records the current simulated day.
func (m *Metrics) SetDay(day int) {
	if m.day == nil {
		return
	}
	m.day.Set(float64(day))
}

// SetWorkerCounts replaces the per-status worker gauge. Statuses absent from
// counts are reset to zero.
func (m *Metrics) SetWorkerCounts(counts map[string]int) {
	if m.workers == nil {
		return
	}
	m.workers.Reset()
	for status, n := range counts {
		m.workers.WithLabelValues(status).Set(float64(n))
	}
}

// SetActiveIncidents replaces the per-severity unresolved incident gauge.
func (m *Metrics) SetActiveIncidents(counts map[string]int) {
	if m.activeIncidents == nil {
		return
	}
	m.activeIncidents.Reset()
	for severity, n := range counts {
		m.activeIncidents.WithLabelValues(severity).Set(float64(n))
	}
}

// Lifecycle counters

func (m *Metrics) RecordIncidentCreated(incidentType string) {
	if m.incidentsCreated == nil {
		return
	}
	m.incidentsCreated.WithLabelValues(incidentType).Inc()
}

func (m *Metrics) RecordIncidentResolved(incidentType string) {
	if m.incidentsResolved == nil {
		return
	}
	m.incidentsResolved.WithLabelValues(incidentType).Inc()
}

// RecordAction counts a player action. outcome is the feedback kind the action
// produced, or "none".
func (m *Metrics) RecordAction(intent, outcome string) {
	if m.actions == nil {
		return
	}
	m.actions.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) RecordTick() {
	if m.ticks == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) RecordGuardrailViolation(policy, severity string) {
	if m.guardrailDenials == nil {
		return
	}
	m.guardrailDenials.WithLabelValues(policy, severity).Inc()
}

// RecordError counts an infrastructure error by class.
func (m *Metrics) RecordError(class string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
}

// ObserveDispatch records how long one intent took to reduce.
func (m *Metrics) ObserveDispatch(intent string, d time.Duration) {
	if m.dispatchDuration == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(intent).Observe(d.Seconds())
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

// Serve exposes the metrics endpoint on the configured listen address until
// ctx is cancelled. It returns nil immediately when metrics are disabled or no
// address is configured.
func (m *Metrics) Serve(ctx context.Context) error {
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

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
