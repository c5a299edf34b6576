package connector

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"mqsource/internal/source"
	"mqsource/internal/tracing"
)

// TracedSource wraps a source.Source with distributed tracing
// Layer order: TracedSource -> MetricsSource -> Connector (real thing)
type TracedSource struct {
	source source.Source
	tracer *tracing.Tracer
	queue  string
}

// NewTracedSource creates a new traced source
func NewTracedSource(src source.Source, tracer *tracing.Tracer, queue string) source.Source {
	return &TracedSource{
		source: src,
		tracer: tracer,
		queue:  queue,
	}
}

// Connect implements source.Source.Connect with distributed tracing
func (s *TracedSource) Connect(ctx context.Context, listener source.Listener) error {
	ctx, span := s.tracer.StartSpan(ctx, "source.start")
	span.SetAttributes(s.tracer.QueueAttributes(s.queue)...)

	err := s.source.Connect(ctx, listener)
	s.tracer.End(ctx, span, err)

	return err
}

// Reconnect implements source.Source.Reconnect with distributed tracing
func (s *TracedSource) Reconnect(ctx context.Context) error {
	ctx, span := s.tracer.StartSpan(ctx, "source.reconnect")
	span.SetAttributes(s.tracer.QueueAttributes(s.queue)...)

	err := s.source.Reconnect(ctx)
	if err != nil {
		span.SetAttributes(attribute.Bool("mqsource.connectivity", source.IsConnectivity(err)))
	}
	s.tracer.End(ctx, span, err)

	return err
}

// Pause implements source.Source.Pause
func (s *TracedSource) Pause() {
	s.source.Pause()
}

// Resume implements source.Source.Resume
func (s *TracedSource) Resume() {
	s.source.Resume()
}

// Disconnect implements source.Source.Disconnect
func (s *TracedSource) Disconnect() {
	s.source.Disconnect()
}
