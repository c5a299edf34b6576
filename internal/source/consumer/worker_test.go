package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mqsource/internal/source"
	"mqsource/internal/source/transport/memory"
)

func startWorker(t *testing.T, f *memory.Factory, l source.Listener, r source.RetryHandler) *Worker {
	t.Helper()

	w, err := NewWorker(context.Background(), 0, testConfig(1), f, l, r, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(w.Shutdown)

	return w
}

// goRun starts the loop and makes sure it has returned before the test ends.
func goRun(t *testing.T, w *Worker) {
	t.Helper()

	go w.Run()
	t.Cleanup(func() {
		w.Shutdown()
		waitDone(t, w)
	})
}

func TestWorker_ForwardsMapMessage(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	w := startWorker(t, f, ev, &retries{})
	goRun(t, w)

	send(t, b, &source.MapMessage{Fields: map[string]any{"a": 1, "b": "x"}})
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, ev.next(t))
}

func TestWorker_ForwardsTextAndOpaqueMessages(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	w := startWorker(t, f, ev, &retries{})
	goRun(t, w)

	send(t, b, &source.TextMessage{Text: "hello"})
	assert.Equal(t, "hello", ev.next(t))

	raw := &source.BytesMessage{ContentType: "application/octet-stream", Body: []byte("x")}
	send(t, b, raw)
	assert.Same(t, raw, ev.next(t))
}

func TestWorker_ProcessesInReceiptOrder(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	w := startWorker(t, f, ev, &retries{})

	for _, s := range []string{"1", "2", "3"} {
		send(t, b, &source.TextMessage{Text: s})
	}
	goRun(t, w)

	assert.Equal(t, "1", ev.next(t))
	assert.Equal(t, "2", ev.next(t))
	assert.Equal(t, "3", ev.next(t))
}

func TestWorker_ResumeWakesPausedLoop(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	w := startWorker(t, f, ev, &retries{})

	w.Pause()
	goRun(t, w)
	send(t, b, &source.TextMessage{Text: "held"})

	ev.none(t, 50*time.Millisecond)
	assert.Equal(t, 1, b.Len(testQueue))

	w.Resume()
	assert.Equal(t, "held", ev.next(t))
	assert.False(t, w.Paused())
}

func TestWorker_PauseAndResumeAreIdempotent(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	w := startWorker(t, f, ev, &retries{})
	goRun(t, w)

	w.Resume()
	w.Resume()
	send(t, b, &source.TextMessage{Text: "a"})
	assert.Equal(t, "a", ev.next(t))

	w.Pause()
	w.Pause()
	assert.True(t, w.Paused())
	w.Resume()

	send(t, b, &source.TextMessage{Text: "b"})
	assert.Equal(t, "b", ev.next(t))
}

func TestWorker_ReceiveFailureIsReportedOnceAndLoopContinues(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	r := &retries{}
	w := startWorker(t, f, ev, r)
	goRun(t, w)

	boom := errors.New("malformed frame")
	require.NoError(t, b.Fail(testQueue, boom))
	send(t, b, &source.TextMessage{Text: "after"})

	assert.Equal(t, "after", ev.next(t))
	require.Equal(t, 1, r.Count())
	assert.ErrorIs(t, r.Errors()[0], boom)
}

func TestWorker_TranslationFailureIsReported(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	r := &retries{}
	w := startWorker(t, f, ev, r)
	goRun(t, w)

	var nilText *source.TextMessage
	send(t, b, nilText)
	send(t, b, &source.TextMessage{Text: "after"})

	assert.Equal(t, "after", ev.next(t))
	require.Equal(t, 1, r.Count())
	assert.ErrorIs(t, r.Errors()[0], source.ErrNilMessage)
}

func TestWorker_ListenerPanicIsReported(t *testing.T) {
	b, f := newBroker()
	r := &retries{}
	ev := newEvents()
	first := true
	l := source.ListenerFunc(func(payload any, metadata []string) {
		if first {
			first = false
			panic("listener bug")
		}
		ev.OnEvent(payload, metadata)
	})
	w := startWorker(t, f, l, r)
	goRun(t, w)

	send(t, b, &source.TextMessage{Text: "boom"})
	send(t, b, &source.TextMessage{Text: "ok"})

	assert.Equal(t, "ok", ev.next(t))
	require.Equal(t, 1, r.Count())
	assert.ErrorContains(t, r.Errors()[0], "listener panicked")
}

func TestWorker_ShutdownStopsDelivery(t *testing.T) {
	b, f := newBroker()
	ev := newEvents()
	r := &retries{}
	w := startWorker(t, f, ev, r)
	goRun(t, w)

	send(t, b, &source.TextMessage{Text: "before"})
	assert.Equal(t, "before", ev.next(t))

	w.Shutdown()
	waitDone(t, w)

	send(t, b, &source.TextMessage{Text: "after"})
	ev.none(t, 50*time.Millisecond)
	assert.Equal(t, 1, b.Len(testQueue))
	assert.Equal(t, 0, r.Count(), "receive error caused by shutdown must not be reported")
	assert.Equal(t, 0, f.OpenConnections())
}

func TestWorker_ShutdownWaitsForInFlightListener(t *testing.T) {
	b, f := newBroker()
	entered := make(chan struct{})
	release := make(chan struct{})
	l := source.ListenerFunc(func(any, []string) {
		close(entered)
		<-release
	})
	w := startWorker(t, f, l, &retries{})
	goRun(t, w)

	send(t, b, &source.TextMessage{Text: "slow"})
	<-entered

	stopped := make(chan struct{})
	go func() {
		w.Shutdown()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("shutdown returned while the listener was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return")
	}
	waitDone(t, w)
}

func TestWorker_ShutdownWhilePaused(t *testing.T) {
	_, f := newBroker()
	w := startWorker(t, f, newEvents(), &retries{})

	w.Pause()
	goRun(t, w)
	time.Sleep(20 * time.Millisecond)

	w.Shutdown()
	waitDone(t, w)
	w.Shutdown()
}

func TestNewWorker_ClassifiesConnectFailures(t *testing.T) {
	t.Run("connectivity", func(t *testing.T) {
		_, f := newBroker()
		f.Inject(memory.StepConnect, errBackendDown)

		_, err := NewWorker(context.Background(), 0, testConfig(1), f, newEvents(), &retries{}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, source.ErrConnectionUnavailable)
		assert.NotErrorIs(t, err, source.ErrFatal)
	})

	t.Run("unknown queue", func(t *testing.T) {
		_, f := newBroker()
		cfg := testConfig(1)
		cfg.DestinationName = "missing"

		_, err := NewWorker(context.Background(), 0, cfg, f, newEvents(), &retries{}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, source.ErrFatal)
		assert.NotErrorIs(t, err, source.ErrConnectionUnavailable)
		assert.Equal(t, source.ReasonUnknownObjectName, source.ReasonOf(err))
	})

	t.Run("unclassified", func(t *testing.T) {
		_, f := newBroker()
		f.Inject(memory.StepSession, errors.New("protocol violation"))

		_, err := NewWorker(context.Background(), 0, testConfig(1), f, newEvents(), &retries{}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, source.ErrFatal)
		assert.Equal(t, 0, f.OpenConnections())
	})
}
