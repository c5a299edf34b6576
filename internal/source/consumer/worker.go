package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"mqsource/internal/source"
)

// Worker consumes one queue over its own connection and forwards every
// message to a listener. Run is the receive loop; Pause, Resume and Shutdown
// may be called from any goroutine.
type Worker struct {
	id       int
	cfg      source.Config
	listener source.Listener
	retry    source.RetryHandler
	logger   *zap.Logger
	handle   *handle
	limiter  *rate.Limiter

	paused   atomic.Bool
	inactive atomic.Bool

	// mu and cond implement the pause wait.
	mu   sync.Mutex
	cond *sync.Cond

	// dispatchMu is held for the duration of a listener call.
	dispatchMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker connects a worker. A failure with a connectivity reason is
// returned as source.ErrConnectionUnavailable, anything else as
// source.ErrFatal.
func NewWorker(
	ctx context.Context,
	id int,
	cfg source.Config,
	factory source.ConnectionFactory,
	listener source.Listener,
	retry source.RetryHandler,
	logger *zap.Logger,
) (*Worker, error) {
	w := &Worker{
		id:       id,
		cfg:      cfg,
		listener: listener,
		retry:    retry,
		logger:   logger.With(zap.String("queue", cfg.QueueName), zap.Int("worker", id)),
		limiter:  newLimiter(cfg),
		done:     make(chan struct{}),
	}
	w.inactive.Store(true)
	w.cond = sync.NewCond(&w.mu)

	h, err := connect(ctx, cfg, factory, w.logger)
	if err != nil {
		if source.IsConnectivity(err) {
			return nil, err
		}

		var ce *connectError
		if errors.As(err, &ce) {
			return nil, fmt.Errorf("%w: failed to %s: %w", source.ErrFatal, ce.op, ce.err)
		}
		return nil, fmt.Errorf("%w: %w", source.ErrFatal, err)
	}

	w.handle = h
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.inactive.Store(false)

	return w, nil
}

func newLimiter(cfg source.Config) *rate.Limiter {
	burst := max(cfg.ReceiveErrorBurst, 1)
	if cfg.ReceiveErrorDelay <= 0 {
		return rate.NewLimiter(rate.Inf, burst)
	}
	return rate.NewLimiter(rate.Every(cfg.ReceiveErrorDelay), burst)
}

// ID returns the index of the worker within its group.
func (w *Worker) ID() int {
	return w.id
}

// Run receives messages until Shutdown is called. Failures do not end the
// loop; they are reported to the retry handler.
func (w *Worker) Run() {
	defer close(w.done)

	w.logger.Info("worker listening")
	defer w.logger.Info("worker stopped")

	for !w.inactive.Load() {
		w.waitWhilePaused()
		if w.inactive.Load() {
			return
		}

		msg, err := w.handle.consumer.Receive(w.ctx)
		if err != nil {
			w.fail("receive message", err)
			continue
		}

		payload, err := source.Event(msg)
		if err != nil {
			w.fail("translate message", err)
			continue
		}

		if err := w.forward(payload); err != nil {
			w.fail("forward event", err)
		}
	}
}

func (w *Worker) waitWhilePaused() {
	if !w.paused.Load() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for w.paused.Load() && !w.inactive.Load() {
		w.cond.Wait()
	}
}

func (w *Worker) forward(payload any) (err error) {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	// a message that raced with Shutdown is dropped
	if w.inactive.Load() {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()

	w.listener.OnEvent(payload, nil)
	return nil
}

func (w *Worker) fail(op string, err error) {
	if w.inactive.Load() {
		w.logger.Debug("worker shutting down", zap.String("op", op), zap.Error(err))
		return
	}

	const errMsg = "failed to consume message"
	w.logger.Error(errMsg, zap.String("op", op), zap.Error(err))
	w.retry.OnError(fmt.Errorf("worker %d failed to %s from queue %s: %w", w.id, op, w.cfg.QueueName, err))

	// returns early once Shutdown cancels the context
	_ = w.limiter.Wait(w.ctx)
}

// Pause stops the worker before its next receive. A receive in progress is
// not interrupted.
func (w *Worker) Pause() {
	w.paused.Store(true)
}

// Resume wakes a paused worker.
func (w *Worker) Resume() {
	w.paused.Store(false)

	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()
}

// Paused reports whether the worker is paused.
func (w *Worker) Paused() bool {
	return w.paused.Load()
}

// Shutdown stops the loop and releases the connection. Once it returns the
// listener is not called again by this worker. It must not be called from
// the listener.
func (w *Worker) Shutdown() {
	if w.inactive.Swap(true) {
		return
	}

	w.mu.Lock()
	w.cond.Broadcast()
	w.mu.Unlock()

	w.cancel()
	w.handle.close()

	// wait out a listener call already in progress
	w.dispatchMu.Lock()
	w.dispatchMu.Unlock()
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
