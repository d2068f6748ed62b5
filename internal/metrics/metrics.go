// Package metrics holds the Prometheus metrics shared across the event bus,
// platform manager, and pipeline engine. Grounded on
// pkg/monitoring/metrics.go's MetricsCollector constructor pattern
// (per-service registry, MustRegister at construction).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every Prometheus collector chatbroker exposes.
type Metrics struct {
	// Event bus
	BusEventsPublished *prometheus.CounterVec
	BusEventsDropped   *prometheus.CounterVec
	BusSubscribers     prometheus.Gauge

	// Platform runtime manager
	RuntimeState          *prometheus.GaugeVec
	RuntimeReconnects     *prometheus.CounterVec
	RuntimeBackoffSeconds *prometheus.HistogramVec

	// Pipeline engine
	PipelineExecutions *prometheus.CounterVec
	PipelineDuration   *prometheus.HistogramVec
	ActionExecutions   *prometheus.CounterVec

	// Message cache
	MessageCacheSize prometheus.Gauge

	// Credential store
	CredentialRefreshes *prometheus.CounterVec

	// DB logger tail
	DBLoggerFlushes   *prometheus.CounterVec
	DBLoggerBatchSize prometheus.Histogram
}

// New builds and registers the metric set. Call once per process.
func New() *Metrics {
	m := &Metrics{
		BusEventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_bus_events_published_total",
			Help: "Total events published on the event bus, by event kind.",
		}, []string{"kind"}),
		BusEventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_bus_events_dropped_total",
			Help: "Events dropped because a subscriber's queue was full.",
		}, []string{"kind"}),
		BusSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatbroker_bus_subscribers",
			Help: "Current number of event bus subscribers.",
		}),
		RuntimeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatbroker_platform_runtime_state",
			Help: "Current runtime state (1=Connected, 0=not) per platform/account.",
		}, []string{"platform", "account"}),
		RuntimeReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_platform_runtime_reconnects_total",
			Help: "Reconnect attempts per platform/account.",
		}, []string{"platform", "account"}),
		RuntimeBackoffSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbroker_platform_runtime_backoff_seconds",
			Help:    "Backoff duration slept before a reconnect attempt.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 60},
		}, []string{"platform", "account"}),
		PipelineExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_pipeline_executions_total",
			Help: "Pipeline executions by pipeline name and terminal status.",
		}, []string{"pipeline", "status"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatbroker_pipeline_duration_seconds",
			Help:    "Pipeline execution wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		ActionExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_action_executions_total",
			Help: "Action executions by action type and result status.",
		}, []string{"action_type", "status"}),
		MessageCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatbroker_message_cache_size",
			Help: "Current number of messages held in the ring buffer.",
		}),
		CredentialRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_credential_refreshes_total",
			Help: "Credential refresh attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		DBLoggerFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbroker_dblogger_flushes_total",
			Help: "Tail flush attempts by sink and outcome.",
		}, []string{"sink", "outcome"}),
		DBLoggerBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbroker_dblogger_batch_size",
			Help:    "Number of messages flushed per batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}

	prometheus.MustRegister(
		m.BusEventsPublished, m.BusEventsDropped, m.BusSubscribers,
		m.RuntimeState, m.RuntimeReconnects, m.RuntimeBackoffSeconds,
		m.PipelineExecutions, m.PipelineDuration, m.ActionExecutions,
		m.MessageCacheSize, m.CredentialRefreshes,
		m.DBLoggerFlushes, m.DBLoggerBatchSize,
	)
	return m
}
