package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mqsource/internal/pool"
	"mqsource/internal/source"
	"mqsource/internal/source/retry"
	"mqsource/internal/source/transport/memory"
)

const testQueue = "payments"

var errBackendDown = source.NewTransportError("connect", source.ReasonQueueManagerNotAvailable, errors.New("queue manager down"))

type fixture struct {
	broker  *memory.Broker
	factory *memory.Factory
	pool    *pool.Pool
	conn    *Connector
	events  chan any
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	return newFixtureWithPool(t, workers, 4*workers)
}

func newFixtureWithPool(t *testing.T, workers, poolSize int) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	b := memory.NewBroker()
	b.Declare(testQueue)
	f := memory.NewFactory(b)

	p, err := pool.New(poolSize, logger)
	require.NoError(t, err)

	cfg := source.Config{
		QueueName:         testQueue,
		DestinationName:   testQueue,
		WorkerCount:       workers,
		ReceiveErrorDelay: time.Millisecond,
		ReceiveErrorBurst: 1,
	}
	c, err := New("billing", cfg, f, p, logger)
	require.NoError(t, err)

	fx := &fixture{broker: b, factory: f, pool: p, conn: c, events: make(chan any, 64)}
	t.Cleanup(func() {
		c.Disconnect()
		p.Wait()
	})
	return fx
}

func (fx *fixture) listener() source.Listener {
	return source.ListenerFunc(func(payload any, _ []string) {
		fx.events <- payload
	})
}

func (fx *fixture) next(t *testing.T) any {
	t.Helper()

	select {
	case p := <-fx.events:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	logger := zaptest.NewLogger(t)
	f := memory.NewFactory(memory.NewBroker())
	p, err := pool.New(1, logger)
	require.NoError(t, err)

	_, err = New("", source.Config{DestinationName: "q", WorkerCount: 1}, f, p, logger)
	require.Error(t, err)

	_, err = New("app", source.Config{DestinationName: "q"}, f, p, logger)
	require.Error(t, err)
}

func TestConnector_ConnectDeliversEvents(t *testing.T) {
	fx := newFixture(t, 2)

	require.NoError(t, fx.conn.Connect(context.Background(), fx.listener()))
	assert.True(t, fx.conn.Ready())
	assert.Equal(t, 2, fx.conn.Workers())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "invoice"}))
	assert.Equal(t, "invoice", fx.next(t))

	assert.ErrorIs(t, fx.conn.Connect(context.Background(), fx.listener()), ErrConnected)
}

func TestConnector_ReconnectAfterFailedConnect(t *testing.T) {
	fx := newFixture(t, 1)
	fx.factory.Inject(memory.StepConnect, errBackendDown)

	err := fx.conn.Connect(context.Background(), fx.listener())
	require.ErrorIs(t, err, source.ErrConnectionUnavailable)
	assert.Contains(t, err.Error(), "billing")
	assert.False(t, fx.conn.Ready())

	require.NoError(t, fx.conn.Reconnect(context.Background()))
	assert.True(t, fx.conn.Ready())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "after"}))
	assert.Equal(t, "after", fx.next(t))
}

func TestConnector_ReconnectRequiresConnect(t *testing.T) {
	fx := newFixture(t, 1)
	assert.ErrorIs(t, fx.conn.Reconnect(context.Background()), ErrDisconnected)

	require.NoError(t, fx.conn.Connect(context.Background(), fx.listener()))
	fx.conn.Disconnect()

	assert.False(t, fx.conn.Ready())
	assert.Equal(t, 0, fx.factory.OpenConnections())
	assert.ErrorIs(t, fx.conn.Reconnect(context.Background()), ErrDisconnected)
}

func TestConnector_PauseSurvivesReconnect(t *testing.T) {
	fx := newFixture(t, 1)
	require.NoError(t, fx.conn.Connect(context.Background(), fx.listener()))

	fx.conn.Pause()
	require.NoError(t, fx.conn.Reconnect(context.Background()))
	assert.True(t, fx.conn.Paused())
	assert.Equal(t, 1, fx.factory.OpenConnections())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "held"}))
	select {
	case p := <-fx.events:
		t.Fatalf("unexpected event %v while paused", p)
	case <-time.After(100 * time.Millisecond):
	}

	fx.conn.Resume()
	assert.Equal(t, "held", fx.next(t))
}

func TestConnector_RecoversThroughRetryHandler(t *testing.T) {
	fx := newFixture(t, 1)

	recovered := make(chan struct{}, 1)
	h, err := retry.NewHandler(retry.Config{
		InitialInterval:  time.Millisecond,
		MaxInterval:      5 * time.Millisecond,
		MaxElapsedTime:   2 * time.Second,
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
	}, fx.conn, zaptest.NewLogger(t), retry.WithObserver(func(status string) {
		if status == retry.StatusRecovered {
			recovered <- struct{}{}
		}
	}))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	fx.conn.SetRetryHandler(h)

	require.NoError(t, fx.conn.Connect(context.Background(), fx.listener()))
	require.Equal(t, 1, fx.factory.Attempts())

	broken := source.NewTransportError("receive", source.ReasonConnectionBroken, errors.New("socket closed"))
	require.NoError(t, fx.broker.Fail(testQueue, broken))

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("source did not recover")
	}
	assert.Equal(t, 2, fx.factory.Attempts())
	assert.Equal(t, 1, fx.factory.OpenConnections())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "recovered"}))
	assert.Equal(t, "recovered", fx.next(t))
}

func TestConnector_ReconnectWithPoolSizedToWorkers(t *testing.T) {
	fx := newFixtureWithPool(t, 2, 2)
	require.NoError(t, fx.conn.Connect(context.Background(), fx.listener()))

	for i := 0; i < 500; i++ {
		require.NoError(t, fx.conn.Reconnect(context.Background()), "reconnect %d", i)
	}
	assert.Equal(t, 2, fx.conn.Workers())
	assert.Equal(t, 2, fx.factory.OpenConnections())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "still flowing"}))
	assert.Equal(t, "still flowing", fx.next(t))
}

func TestConnector_ListenerPausesDuringReconnect(t *testing.T) {
	fx := newFixture(t, 1)

	entered := make(chan struct{})
	proceed := make(chan struct{})
	var once sync.Once
	listener := source.ListenerFunc(func(payload any, _ []string) {
		once.Do(func() {
			close(entered)
			<-proceed
			fx.conn.Pause()
		})
		fx.events <- payload
	})
	require.NoError(t, fx.conn.Connect(context.Background(), listener))
	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "slow"}))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not called")
	}

	reconnected := make(chan error, 1)
	go func() { reconnected <- fx.conn.Reconnect(context.Background()) }()

	// Reconnect is now waiting for the listener call to finish
	time.Sleep(50 * time.Millisecond)
	close(proceed)

	select {
	case err := <-reconnected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect blocked on a listener calling Pause")
	}
	assert.Equal(t, "slow", fx.next(t))
	assert.True(t, fx.conn.Paused())

	require.NoError(t, fx.broker.Send(testQueue, &source.TextMessage{Text: "held"}))
	select {
	case p := <-fx.events:
		t.Fatalf("unexpected event %v while paused", p)
	case <-time.After(100 * time.Millisecond):
	}

	fx.conn.Resume()
	assert.Equal(t, "held", fx.next(t))
}
