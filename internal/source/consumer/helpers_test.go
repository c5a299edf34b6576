package consumer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mqsource/internal/source"
	"mqsource/internal/source/transport/memory"
)

const testQueue = "orders"

var errBackendDown = source.NewTransportError("connect", source.ReasonHostNotAvailable, errors.New("dial tcp: connection refused"))

func testConfig(workers int) source.Config {
	return source.Config{
		QueueName:       testQueue,
		DestinationName: testQueue,
		WorkerCount:     workers,
	}
}

func newBroker() (*memory.Broker, *memory.Factory) {
	b := memory.NewBroker()
	b.Declare(testQueue)
	return b, memory.NewFactory(b)
}

// executor records submissions and optionally runs them. With limit set it
// rejects every submission after the first limit ones.
type executor struct {
	mu        sync.Mutex
	submitted int
	limit     int
	run       bool
	err       error
	wg        sync.WaitGroup
}

func (e *executor) Submit(task func()) (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil && (e.limit == 0 || e.submitted >= e.limit) {
		return nil, e.err
	}
	e.submitted++

	done := make(chan struct{})
	if !e.run {
		close(done)
		return done, nil
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		task()
	}()
	return done, nil
}

func (e *executor) Submitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submitted
}

// retries records retry notifications.
type retries struct {
	mu   sync.Mutex
	errs []error
}

func (r *retries) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *retries) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *retries) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// events collects listener calls.
type events struct {
	ch chan any
}

func newEvents() *events {
	return &events{ch: make(chan any, 64)}
}

func (e *events) OnEvent(payload any, metadata []string) {
	if metadata != nil {
		panic("metadata must be nil")
	}
	e.ch <- payload
}

func (e *events) next(t *testing.T) any {
	t.Helper()

	select {
	case p := <-e.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (e *events) none(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case p := <-e.ch:
		t.Fatalf("unexpected event %v", p)
	case <-time.After(d):
	}
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func send(t *testing.T, b *memory.Broker, msg source.Message) {
	t.Helper()
	require.NoError(t, b.Send(testQueue, msg))
}
