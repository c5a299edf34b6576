package connector

import (
	"context"

	"mqsource/internal/metrics"
	"mqsource/internal/source"
)

// MetricsSource wraps a source.Source with metrics collection
type MetricsSource struct {
	source   source.Source
	registry *metrics.Registry
	queue    string
	workers  int
}

// NewMetricsSource creates a new instrumented source running workers
// workers per group.
func NewMetricsSource(src source.Source, registry *metrics.Registry, queue string, workers int) source.Source {
	return &MetricsSource{
		source:   src,
		registry: registry,
		queue:    queue,
		workers:  workers,
	}
}

// Connect implements source.Source.Connect with metrics collection
func (s *MetricsSource) Connect(ctx context.Context, listener source.Listener) error {
	err := s.source.Connect(ctx, listener)
	s.registry.RecordSourceOperation("connect", err)
	s.setWorkers(err)

	return err
}

// Reconnect implements source.Source.Reconnect with metrics collection
func (s *MetricsSource) Reconnect(ctx context.Context) error {
	err := s.source.Reconnect(ctx)
	s.registry.RecordSourceOperation("reconnect", err)
	s.setWorkers(err)

	return err
}

// Pause implements source.Source.Pause with metrics collection
func (s *MetricsSource) Pause() {
	s.source.Pause()
	s.registry.RecordSourceOperation("pause", nil)
	s.registry.SetPaused(s.queue, true)
}

// Resume implements source.Source.Resume with metrics collection
func (s *MetricsSource) Resume() {
	s.source.Resume()
	s.registry.RecordSourceOperation("resume", nil)
	s.registry.SetPaused(s.queue, false)
}

// Disconnect implements source.Source.Disconnect with metrics collection
func (s *MetricsSource) Disconnect() {
	s.source.Disconnect()
	s.registry.RecordSourceOperation("disconnect", nil)
	s.registry.SetWorkers(s.queue, 0)
}

func (s *MetricsSource) setWorkers(err error) {
	if err != nil {
		s.registry.SetWorkers(s.queue, 0)
		return
	}
	s.registry.SetWorkers(s.queue, s.workers)
}
