package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqsource/internal/source"
)

func open(t *testing.T, f *Factory, queue string) (source.Connection, source.MessageConsumer) {
	t.Helper()

	conn, err := f.CreateConnection(context.Background())
	require.NoError(t, err)
	sess, err := conn.CreateSession(false, source.AutoAcknowledge)
	require.NoError(t, err)
	q, err := sess.CreateQueue(queue)
	require.NoError(t, err)
	c, err := sess.CreateConsumer(q)
	require.NoError(t, err)

	return conn, c
}

func TestConsumer_ReceivesAfterStart(t *testing.T) {
	b := NewBroker()
	b.Declare("orders")
	f := NewFactory(b)
	conn, c := open(t, f, "orders")

	require.NoError(t, b.Send("orders", &source.TextMessage{Text: "hello"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no delivery before Start")

	require.NoError(t, conn.Start())
	msg, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.(*source.TextMessage).Text)
	assert.NotEmpty(t, msg.MessageID())

	require.NoError(t, conn.Close())
	assert.Equal(t, 0, f.OpenConnections())
	assert.Equal(t, 0, f.OpenConsumers())
}

func TestConsumer_CloseUnblocksReceive(t *testing.T) {
	b := NewBroker()
	b.Declare("orders")
	f := NewFactory(b)
	conn, c := open(t, f, "orders")
	require.NoError(t, conn.Start())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		errCh <- err
	}()

	require.NoError(t, c.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, source.ErrConsumerClosed)
	case <-time.After(time.Second):
		t.Fatal("receive did not return after close")
	}
}

func TestFactory_Faults(t *testing.T) {
	b := NewBroker()
	f := NewFactory(b)
	boom := errors.New("boom")
	f.Inject(StepConnect, boom)

	_, err := f.CreateConnection(context.Background())
	assert.ErrorIs(t, err, boom)

	conn, err := f.CreateConnection(context.Background())
	require.NoError(t, err)
	sess, err := conn.CreateSession(false, source.AutoAcknowledge)
	require.NoError(t, err)

	_, err = sess.CreateQueue("missing")
	assert.Equal(t, source.ReasonUnknownObjectName, source.ReasonOf(err))
	assert.Equal(t, 2, f.Attempts())
}

func TestFactory_Credentials(t *testing.T) {
	f := NewFactory(NewBroker())
	f.RequireCredentials("app", "secret")

	_, err := f.CreateConnection(context.Background())
	assert.Equal(t, source.ReasonNotAuthorized, source.ReasonOf(err))

	_, err = f.CreateConnectionWithCredentials(context.Background(), "app", "wrong")
	assert.Equal(t, source.ReasonNotAuthorized, source.ReasonOf(err))

	conn, err := f.CreateConnectionWithCredentials(context.Background(), "app", "secret")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestBroker_Fail(t *testing.T) {
	b := NewBroker()
	b.Declare("orders")
	f := NewFactory(b)
	conn, c := open(t, f, "orders")
	require.NoError(t, conn.Start())

	boom := errors.New("decode failed")
	require.NoError(t, b.Fail("orders", boom))

	_, err := c.Receive(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Error(t, b.Send("missing", &source.TextMessage{}))
}
