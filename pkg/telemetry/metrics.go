package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the dispatch core. A nil
// *Metrics is a valid no-op collector so instrumented code never has to
// guard its calls.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeDispatches prometheus.Gauge

	// Per-node fan-out metrics
	nodeCallsTotal   *prometheus.CounterVec
	nodeCallDuration *prometheus.HistogramVec

	// Forwarding metrics
	forwardedTotal *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec
	errorsByCode *prometheus.CounterVec

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

		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of dispatched API calls",
			},
			[]string{"policy", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "End-to-end dispatch duration, aggregation included",
				Buckets:   buckets,
			},
			[]string{"policy"},
		),
		activeDispatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_dispatches",
				Help:      "Number of dispatches currently in flight",
			},
		),
		nodeCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_calls_total",
				Help:      "Total number of per-node calls issued during fan-out",
			},
			[]string{"result"},
		),
		nodeCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_call_duration_seconds",
				Help:      "Duration of individual per-node calls",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		forwardedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forwarded_total",
				Help:      "Total number of calls forwarded to the master",
			},
			[]string{"policy"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Taxonomy errors surfaced by dispatches, by kind",
			},
			[]string{"kind"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Taxonomy errors surfaced by dispatches, by code",
			},
			[]string{"code"},
		),
	}

	collectors := []prometheus.Collector{
		m.dispatchesTotal,
		m.dispatchDuration,
		m.activeDispatches,
		m.nodeCallsTotal,
		m.nodeCallDuration,
		m.forwardedTotal,
		m.errorsByKind,
		m.errorsByCode,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// ObserveDispatch records one completed dispatch.
func (m *Metrics) ObserveDispatch(policy, outcome string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.dispatchesTotal.WithLabelValues(policy, outcome).Inc()
	m.dispatchDuration.WithLabelValues(policy).Observe(d.Seconds())
}

// DispatchStarted marks a dispatch entering flight.
func (m *Metrics) DispatchStarted() {
	if !m.enabled() {
		return
	}
	m.activeDispatches.Inc()
}

// DispatchFinished marks a dispatch leaving flight.
func (m *Metrics) DispatchFinished() {
	if !m.enabled() {
		return
	}
	m.activeDispatches.Dec()
}

// ObserveNodeCall records one per-node call.
func (m *Metrics) ObserveNodeCall(result string, d time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodeCallsTotal.WithLabelValues(result).Inc()
	m.nodeCallDuration.WithLabelValues(result).Observe(d.Seconds())
}

// CountForwarded records a call relayed to the master.
func (m *Metrics) CountForwarded(policy string) {
	if !m.enabled() {
		return
	}
	m.forwardedTotal.WithLabelValues(policy).Inc()
}

// CountTaxonomyError records a taxonomy error surfaced by a dispatch.
func (m *Metrics) CountTaxonomyError(kind string, code int) {
	if !m.enabled() {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
	m.errorsByCode.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
