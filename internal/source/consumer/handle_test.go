package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"mqsource/internal/source"
	"mqsource/internal/source/transport/memory"
)

func TestConnect_PartialSetupIsClosed(t *testing.T) {
	steps := []memory.Step{memory.StepSession, memory.StepQueue, memory.StepConsumer, memory.StepStart}

	for _, step := range steps {
		_, f := newBroker()
		boom := errors.New("boom")
		f.Inject(step, boom)

		h, err := connect(context.Background(), testConfig(1), f, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.Nil(t, h)
		assert.ErrorIs(t, err, source.ErrConnectionUnavailable)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, f.OpenConnections(), "step %d leaked a connection", step)
		assert.Equal(t, 0, f.OpenConsumers(), "step %d leaked a consumer", step)
	}
}

func TestConnect_UsesCredentialsWhenSecured(t *testing.T) {
	_, f := newBroker()
	f.RequireCredentials("app", "secret")

	cfg := testConfig(1)
	_, err := connect(context.Background(), cfg, f, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, source.ErrConnectionUnavailable)

	cfg.Secured = true
	cfg.Username = "app"
	cfg.Password = "secret"
	h, err := connect(context.Background(), cfg, f, zaptest.NewLogger(t))
	require.NoError(t, err)
	h.close()
}

func TestHandleClose_ConsumerFailureStillClosesConnection(t *testing.T) {
	_, f := newBroker()
	core, logs := observer.New(zapcore.ErrorLevel)

	h, err := connect(context.Background(), testConfig(1), f, zap.New(core))
	require.NoError(t, err)

	f.Inject(memory.StepCloseConsumer, errors.New("consumer close failed"))
	f.Inject(memory.StepCloseConnection, errors.New("connection close failed"))
	h.close()

	assert.Equal(t, 0, f.OpenConnections())
	assert.Equal(t, 1, logs.FilterMessage("failed to close consumer").Len())
	assert.Equal(t, 1, logs.FilterMessage("failed to close connection").Len())
}
