package consumer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mqsource/internal/source"
	"mqsource/internal/tracing"
)

var errListenerPanic = errors.New("listener panicked")

// TracedListener wraps a source.Listener with distributed tracing
// Layer order: TracedListener -> MetricsListener -> Listener (real thing)
type TracedListener struct {
	listener source.Listener
	tracer   *tracing.Tracer
	queue    string
}

// NewTracedListener creates a new traced listener
func NewTracedListener(listener source.Listener, tracer *tracing.Tracer, queue string) source.Listener {
	return &TracedListener{
		listener: listener,
		tracer:   tracer,
		queue:    queue,
	}
}

// OnEvent implements source.Listener.OnEvent with distributed tracing. A
// listener panic is recorded on the span before it propagates.
func (l *TracedListener) OnEvent(payload any, metadata []string) {
	ctx, span := l.tracer.StartSpan(context.Background(), "source.event")
	span.SetAttributes(l.tracer.EventAttributes(l.queue, source.Kind(payload))...)

	panicked := true
	defer func() {
		if panicked {
			l.tracer.RecordError(ctx, errListenerPanic)
			span.End()
		}
	}()

	l.listener.OnEvent(payload, metadata)
	panicked = false
	l.tracer.End(ctx, span, nil)
}

// TracedFactory wraps a source.ConnectionFactory with distributed tracing
type TracedFactory struct {
	factory source.ConnectionFactory
	tracer  *tracing.Tracer
}

// NewTracedFactory creates a new traced connection factory
func NewTracedFactory(factory source.ConnectionFactory, tracer *tracing.Tracer) source.ConnectionFactory {
	return &TracedFactory{
		factory: factory,
		tracer:  tracer,
	}
}

// CreateConnection implements source.ConnectionFactory.CreateConnection with distributed tracing
func (f *TracedFactory) CreateConnection(ctx context.Context) (source.Connection, error) {
	ctx, span := f.tracer.StartSpan(ctx, "source.connect")
	span.SetAttributes(f.tracer.ConnectAttributes(false)...)

	conn, err := f.factory.CreateConnection(ctx)
	f.finish(ctx, span, err)

	return conn, err
}

// CreateConnectionWithCredentials implements
// source.ConnectionFactory.CreateConnectionWithCredentials with distributed tracing
func (f *TracedFactory) CreateConnectionWithCredentials(ctx context.Context, username, password string) (source.Connection, error) {
	ctx, span := f.tracer.StartSpan(ctx, "source.connect")
	span.SetAttributes(f.tracer.ConnectAttributes(true)...)

	conn, err := f.factory.CreateConnectionWithCredentials(ctx, username, password)
	f.finish(ctx, span, err)

	return conn, err
}

func (f *TracedFactory) finish(ctx context.Context, span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(
			attribute.Int("mqsource.reason", int(source.ReasonOf(err))),
			attribute.Bool("mqsource.connectivity", source.IsConnectivity(err)),
		)
	}
	f.tracer.End(ctx, span, err)
}
