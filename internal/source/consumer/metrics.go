package consumer

import (
	"context"
	"time"

	"mqsource/internal/metrics"
	"mqsource/internal/source"
)

// MetricsListener wraps a source.Listener with metrics collection
type MetricsListener struct {
	listener source.Listener
	registry *metrics.Registry
	queue    string
}

// NewMetricsListener creates a new instrumented listener
func NewMetricsListener(listener source.Listener, registry *metrics.Registry, queue string) source.Listener {
	return &MetricsListener{
		listener: listener,
		registry: registry,
		queue:    queue,
	}
}

// OnEvent implements source.Listener.OnEvent with metrics collection
func (l *MetricsListener) OnEvent(payload any, metadata []string) {
	start := time.Now()
	defer func() {
		l.registry.RecordEvent(l.queue, source.Kind(payload), time.Since(start))
	}()

	l.listener.OnEvent(payload, metadata)
}

// MetricsRetryHandler counts the failures reported by workers
type MetricsRetryHandler struct {
	retry    source.RetryHandler
	registry *metrics.Registry
	queue    string
}

// NewMetricsRetryHandler creates a new instrumented retry handler
func NewMetricsRetryHandler(retry source.RetryHandler, registry *metrics.Registry, queue string) source.RetryHandler {
	return &MetricsRetryHandler{
		retry:    retry,
		registry: registry,
		queue:    queue,
	}
}

// OnError implements source.RetryHandler.OnError with metrics collection
func (h *MetricsRetryHandler) OnError(err error) {
	h.registry.RecordRetryNotification(h.queue)
	h.retry.OnError(err)
}

// MetricsFactory records connection attempts and the connections left open
type MetricsFactory struct {
	factory  source.ConnectionFactory
	registry *metrics.Registry
}

// NewMetricsFactory creates a new instrumented connection factory
func NewMetricsFactory(factory source.ConnectionFactory, registry *metrics.Registry) source.ConnectionFactory {
	return &MetricsFactory{
		factory:  factory,
		registry: registry,
	}
}

// CreateConnection implements source.ConnectionFactory.CreateConnection with metrics collection
func (f *MetricsFactory) CreateConnection(ctx context.Context) (source.Connection, error) {
	conn, err := f.factory.CreateConnection(ctx)
	return f.record(conn, err)
}

// CreateConnectionWithCredentials implements
// source.ConnectionFactory.CreateConnectionWithCredentials with metrics collection
func (f *MetricsFactory) CreateConnectionWithCredentials(ctx context.Context, username, password string) (source.Connection, error) {
	conn, err := f.factory.CreateConnectionWithCredentials(ctx, username, password)
	return f.record(conn, err)
}

func (f *MetricsFactory) record(conn source.Connection, err error) (source.Connection, error) {
	switch {
	case err == nil:
		f.registry.RecordConnectionAttempt("success", "none")
		return &metricsConnection{Connection: conn, registry: f.registry}, nil
	case source.IsConnectivity(err):
		f.registry.RecordConnectionAttempt("unavailable", source.ReasonOf(err).String())
	default:
		f.registry.RecordConnectionAttempt("error", source.ReasonOf(err).String())
	}
	return nil, err
}

type metricsConnection struct {
	source.Connection
	registry *metrics.Registry
}

func (c *metricsConnection) Close() error {
	err := c.Connection.Close()
	c.registry.RecordConnectionClosed()
	return err
}
