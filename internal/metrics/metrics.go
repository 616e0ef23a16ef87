// Package metrics provides Prometheus metrics instrumentation for the controller.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reconcile and watch outcome label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	OutcomeReconciled = "reconciled"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
type Collector interface {
	// Reconcile metrics
	RecordReconcile(ctx context.Context, status string, duration time.Duration)
	RecordReconcileAttempts(ctx context.Context, status string, attempts int)
	RecordGeoItems(ctx context.Context, count int)

	// DNS provider API metrics
	RecordAPICall(ctx context.Context, method, status string, duration time.Duration)
	RecordAPIError(ctx context.Context, method, errorType string)

	// Watch metrics
	RecordWatchEvent(ctx context.Context, eventType, outcome string)
	RecordWatchReconnect(ctx context.Context, reason string)
	RecordWatchState(ctx context.Context, state string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Reconcile metrics
	reconcileDuration *prometheus.HistogramVec
	reconcileTotal    *prometheus.CounterVec
	reconcileAttempts *prometheus.HistogramVec
	geoItems          prometheus.Gauge

	// DNS provider API metrics
	apiDuration    *prometheus.HistogramVec
	apiCallsTotal  *prometheus.CounterVec
	apiErrorsTotal *prometheus.CounterVec

	// Watch metrics
	watchEventsTotal     *prometheus.CounterVec
	watchReconnectsTotal *prometheus.CounterVec
	watchState           *prometheus.GaugeVec

	stateMu   sync.Mutex
	lastState string
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initAPIMetrics()
	c.initWatchMetrics()
	c.register(reg)

	return c
}

// RecordReconcile records the duration and result of a reconciliation.
func (c *prometheusCollector) RecordReconcile(_ context.Context, status string, duration time.Duration) {
	c.reconcileDuration.WithLabelValues(status).Observe(duration.Seconds())
	c.reconcileTotal.WithLabelValues(status).Inc()
}

// RecordReconcileAttempts records how many attempts a reconciliation used.
func (c *prometheusCollector) RecordReconcileAttempts(_ context.Context, status string, attempts int) {
	c.reconcileAttempts.WithLabelValues(status).Observe(float64(attempts))
}

// RecordGeoItems records the number of geo items in the last written record.
func (c *prometheusCollector) RecordGeoItems(_ context.Context, count int) {
	c.geoItems.Set(float64(count))
}

// RecordAPICall records a DNS provider API call.
func (c *prometheusCollector) RecordAPICall(_ context.Context, method, status string, duration time.Duration) {
	c.apiDuration.WithLabelValues(method).Observe(duration.Seconds())
	c.apiCallsTotal.WithLabelValues(method, status).Inc()
}

// RecordAPIError records a DNS provider API error.
func (c *prometheusCollector) RecordAPIError(_ context.Context, method, errorType string) {
	c.apiErrorsTotal.WithLabelValues(method, errorType).Inc()
}

// RecordWatchEvent records a received ingress watch event and what became of it.
func (c *prometheusCollector) RecordWatchEvent(_ context.Context, eventType, outcome string) {
	c.watchEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RecordWatchReconnect records a watch reconnection.
func (c *prometheusCollector) RecordWatchReconnect(_ context.Context, reason string) {
	c.watchReconnectsTotal.WithLabelValues(reason).Inc()
}

// RecordWatchState marks state as the current watch session state.
func (c *prometheusCollector) RecordWatchState(_ context.Context, state string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.lastState != "" && c.lastState != state {
		c.watchState.WithLabelValues(c.lastState).Set(0)
	}

	c.watchState.WithLabelValues(state).Set(1)
	c.lastState = state
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodns_reconcile_duration_seconds",
			Help:    "Duration of DNS record reconciliation including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
	c.reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodns_reconcile_total",
			Help: "Total DNS record reconciliations by result",
		},
		[]string{"status"},
	)
	c.reconcileAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodns_reconcile_attempts",
			Help:    "Fetch-merge-apply attempts used per reconciliation",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
		[]string{"status"},
	)
	c.geoItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "geodns_record_geo_items",
			Help: "Number of geo routing items in the last written record",
		},
	)
}

func (c *prometheusCollector) initAPIMetrics() {
	c.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geodns_provider_api_duration_seconds",
			Help:    "Duration of DNS provider API calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)
	c.apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodns_provider_api_calls_total",
			Help: "Total DNS provider API calls",
		},
		[]string{"method", "status"},
	)
	c.apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodns_provider_api_errors_total",
			Help: "Total DNS provider API errors by type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) initWatchMetrics() {
	c.watchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodns_watch_events_total",
			Help: "Ingress watch events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	c.watchReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geodns_watch_reconnects_total",
			Help: "Ingress watch reconnections by reason",
		},
		[]string{"reason"},
	)
	c.watchState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "geodns_watch_state",
			Help: "Current ingress watch session state (1 for the active state)",
		},
		[]string{"state"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileDuration,
		c.reconcileTotal,
		c.reconcileAttempts,
		c.geoItems,
		c.apiDuration,
		c.apiCallsTotal,
		c.apiErrorsTotal,
		c.watchEventsTotal,
		c.watchReconnectsTotal,
		c.watchState,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcile is a no-op.
func (c *NoopCollector) RecordReconcile(_ context.Context, _ string, _ time.Duration) {}

// RecordReconcileAttempts is a no-op.
func (c *NoopCollector) RecordReconcileAttempts(_ context.Context, _ string, _ int) {}

// RecordGeoItems is a no-op.
func (c *NoopCollector) RecordGeoItems(_ context.Context, _ int) {}

// RecordAPICall is a no-op.
func (c *NoopCollector) RecordAPICall(_ context.Context, _, _ string, _ time.Duration) {}

// RecordAPIError is a no-op.
func (c *NoopCollector) RecordAPIError(_ context.Context, _, _ string) {}

// RecordWatchEvent is a no-op.
func (c *NoopCollector) RecordWatchEvent(_ context.Context, _, _ string) {}

// RecordWatchReconnect is a no-op.
func (c *NoopCollector) RecordWatchReconnect(_ context.Context, _ string) {}

// RecordWatchState is a no-op.
func (c *NoopCollector) RecordWatchState(_ context.Context, _ string) {}
