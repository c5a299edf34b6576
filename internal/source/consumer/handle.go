package consumer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mqsource/internal/source"
)

// connectError is returned by connect. It matches
// source.ErrConnectionUnavailable and unwraps to the transport failure.
type connectError struct {
	op  string
	err error
}

func (e *connectError) Error() string {
	return fmt.Sprintf("%v: failed to %s: %v", source.ErrConnectionUnavailable, e.op, e.err)
}

func (e *connectError) Unwrap() []error {
	return []error{source.ErrConnectionUnavailable, e.err}
}

// handle owns the connection and consumer of exactly one worker.
type handle struct {
	queue    string
	conn     source.Connection
	consumer source.MessageConsumer
	logger   *zap.Logger
}

// connect opens a connection, an auto-acknowledge session and a consumer on
// the configured destination, then starts delivery. On failure everything
// created so far is closed.
func connect(ctx context.Context, cfg source.Config, factory source.ConnectionFactory, logger *zap.Logger) (*handle, error) {
	var (
		conn source.Connection
		err  error
	)
	if cfg.Secured {
		conn, err = factory.CreateConnectionWithCredentials(ctx, cfg.Username, cfg.Password)
	} else {
		conn, err = factory.CreateConnection(ctx)
	}
	if err != nil {
		return nil, &connectError{op: "create connection", err: err}
	}

	h := &handle{queue: cfg.QueueName, conn: conn, logger: logger}

	sess, err := conn.CreateSession(false, source.AutoAcknowledge)
	if err != nil {
		h.close()
		return nil, &connectError{op: "create session", err: err}
	}

	queue, err := sess.CreateQueue(cfg.DestinationName)
	if err != nil {
		h.close()
		return nil, &connectError{op: "resolve queue " + cfg.DestinationName, err: err}
	}

	h.consumer, err = sess.CreateConsumer(queue)
	if err != nil {
		h.close()
		return nil, &connectError{op: "create consumer", err: err}
	}

	if err := conn.Start(); err != nil {
		h.close()
		return nil, &connectError{op: "start connection", err: err}
	}

	return h, nil
}

// close closes the consumer and then the connection. Failures are logged
// and never stop the second close.
func (h *handle) close() {
	if h.consumer != nil {
		if err := h.consumer.Close(); err != nil {
			h.logger.Error("failed to close consumer", zap.String("queue", h.queue), zap.Error(err))
		}
	}

	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			h.logger.Error("failed to close connection", zap.String("queue", h.queue), zap.Error(err))
		}
	}
}
