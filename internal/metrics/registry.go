package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Worker metrics
	eventsTotal        *prometheus.CounterVec
	listenerDuration   *prometheus.HistogramVec
	retryNotifications *prometheus.CounterVec

	// Connection metrics
	connectionAttempts *prometheus.CounterVec
	connectionsOpen    prometheus.Gauge

	// Source metrics
	sourceOperations *prometheus.CounterVec
	workers          *prometheus.GaugeVec
	paused           *prometheus.GaugeVec

	// Retry handler metrics
	recoveries *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqsource_events_total",
				Help: "Total number of events forwarded to the listener",
			},
			[]string{"queue", "kind"}, // kind: map, text, opaque
		),

		listenerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mqsource_listener_duration_seconds",
				Help:    "Time spent in the listener per event",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"queue"},
		),

		retryNotifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqsource_retry_notifications_total",
				Help: "Total number of worker failures reported to the retry handler",
			},
			[]string{"queue"},
		),

		connectionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqsource_connection_attempts_total",
				Help: "Total number of connection attempts",
			},
			[]string{"status", "reason"}, // status: success, unavailable, error
		),

		connectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mqsource_connections_open",
				Help: "Number of open backend connections",
			},
		),

		sourceOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqsource_source_operations_total",
				Help: "Total number of source lifecycle operations",
			},
			[]string{"operation", "status"}, // operation: connect, reconnect, disconnect
		),

		workers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mqsource_workers",
				Help: "Number of running consumer workers",
			},
			[]string{"queue"},
		),

		paused: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mqsource_paused",
				Help: "1 when the source is paused",
			},
			[]string{"queue"},
		),

		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqsource_recoveries_total",
				Help: "Total number of recovery runs by outcome",
			},
			[]string{"status"}, // status: recovered, gave_up, dropped, ignored
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mqsource_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "backend"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mqsource_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.eventsTotal,
		r.listenerDuration,
		r.retryNotifications,
		r.connectionAttempts,
		r.connectionsOpen,
		r.sourceOperations,
		r.workers,
		r.paused,
		r.recoveries,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Gatherer exposes the underlying registry for inspection.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordEvent records one listener call
func (r *Registry) RecordEvent(queue, kind string, duration time.Duration) {
	r.eventsTotal.WithLabelValues(queue, kind).Inc()
	r.listenerDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordRetryNotification records a failure handed to the retry handler
func (r *Registry) RecordRetryNotification(queue string) {
	r.retryNotifications.WithLabelValues(queue).Inc()
}

// RecordConnectionAttempt records the outcome of opening a connection
func (r *Registry) RecordConnectionAttempt(status, reason string) {
	r.connectionAttempts.WithLabelValues(status, reason).Inc()
	if status == "success" {
		r.connectionsOpen.Inc()
	}
}

// RecordConnectionClosed records a connection being closed
func (r *Registry) RecordConnectionClosed() {
	r.connectionsOpen.Dec()
}

// RecordSourceOperation records a source lifecycle operation
func (r *Registry) RecordSourceOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.sourceOperations.WithLabelValues(operation, status).Inc()
}

// SetWorkers sets the number of running workers for a queue
func (r *Registry) SetWorkers(queue string, n int) {
	r.workers.WithLabelValues(queue).Set(float64(n))
}

// SetPaused sets the paused state for a queue
func (r *Registry) SetPaused(queue string, paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	r.paused.WithLabelValues(queue).Set(v)
}

// RecordRecovery records the outcome of a retry handler notification
func (r *Registry) RecordRecovery(status string) {
	r.recoveries.WithLabelValues(status).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, backend string) {
	r.systemInfo.WithLabelValues(version, backend).Set(1)
}
