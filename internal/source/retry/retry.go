// Package retry recovers a source after its workers report a lost
// connection. Recovery reconnects the source through a circuit breaker and
// retries with exponential backoff until it succeeds, fails fatally or runs
// out of time.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"mqsource/internal/source"
	"mqsource/internal/validator"
)

// Recovery outcomes reported to an observer.
const (
	StatusIgnored   = "ignored"
	StatusDropped   = "dropped"
	StatusRecovered = "recovered"
	StatusGaveUp    = "gave_up"
)

// Config holds the recovery policy.
type Config struct {
	InitialInterval  time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval      time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
	Multiplier       float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	MaxElapsedTime   time.Duration `env:"RETRY_MAX_ELAPSED_TIME" envDefault:"5m"`
	MaxAttempts      uint          `env:"RETRY_MAX_ATTEMPTS" envDefault:"0"`
	FailureThreshold uint32        `env:"RETRY_FAILURE_THRESHOLD" envDefault:"5"`
	ResetTimeout     time.Duration `env:"RETRY_RESET_TIMEOUT" envDefault:"30s"`
}

// Reconnector is the component a Handler recovers.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithGiveUp sets a callback invoked with the last error when a recovery
// stops without reconnecting.
func WithGiveUp(fn func(error)) Option {
	return func(h *Handler) {
		h.onGiveUp = fn
	}
}

// WithObserver sets a callback invoked with the outcome of every
// notification.
func WithObserver(fn func(status string)) Option {
	return func(h *Handler) {
		h.observe = fn
	}
}

// Handler implements source.RetryHandler. Only one recovery runs at a time;
// notifications received while it runs are dropped.
type Handler struct {
	cfg      Config
	target   Reconnector
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	onGiveUp func(error)
	observe  func(string)

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewHandler creates a retry handler recovering target.
func NewHandler(cfg Config, target Reconnector, logger *zap.Logger, opts ...Option) (*Handler, error) {
	if err := validator.Validate("retry handler", target, logger); err != nil {
		return nil, fmt.Errorf("failed to validate retry handler deps: %w", err)
	}

	h := &Handler{
		cfg:      cfg,
		target:   target,
		logger:   logger.Named("retry"),
		onGiveUp: func(error) {},
		observe:  func(string) {},
	}
	for _, opt := range opts {
		opt(h)
	}

	threshold := max(cfg.FailureThreshold, 1)
	h.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "source-reconnect",
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			h.logger.Warn("reconnect circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	h.ctx, h.cancel = context.WithCancel(context.Background())

	return h, nil
}

// OnError starts a recovery when err reports a lost connection. It never
// blocks.
func (h *Handler) OnError(err error) {
	if !source.IsConnectivity(err) && !errors.Is(err, source.ErrConnectionUnavailable) {
		h.logger.Debug("ignoring non-connectivity failure", zap.Error(err))
		h.observe(StatusIgnored)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		h.logger.Debug("recovery already running", zap.Error(err))
		h.observe(StatusDropped)
		return
	}

	h.wg.Add(1)
	go h.reconnect(err)
}

func (h *Handler) reconnect(cause error) {
	defer h.wg.Done()
	defer h.running.Store(false)

	logger := h.logger.With(zap.NamedError("cause", cause))
	logger.Warn("source lost its connection, reconnecting")

	attempts := 0
	_, err := backoff.Retry(h.ctx, func() (struct{}, error) {
		attempts++
		_, err := h.breaker.Execute(func() (interface{}, error) {
			return nil, h.target.Reconnect(h.ctx)
		})
		if err != nil && errors.Is(err, source.ErrFatal) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, h.retryOptions(logger)...)

	switch {
	case err == nil:
		logger.Info("source reconnected", zap.Int("attempts", attempts))
		h.observe(StatusRecovered)
	case h.ctx.Err() != nil:
		logger.Debug("recovery canceled", zap.Error(err))
	default:
		const errMsg = "failed to reconnect source"
		logger.Error(errMsg, zap.Int("attempts", attempts), zap.Error(err))
		h.observe(StatusGaveUp)
		h.onGiveUp(fmt.Errorf("%s after %d attempts: %w", errMsg, attempts, err))
	}
}

func (h *Handler) retryOptions(logger *zap.Logger) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	if h.cfg.InitialInterval > 0 {
		b.InitialInterval = h.cfg.InitialInterval
	}
	if h.cfg.MaxInterval > 0 {
		b.MaxInterval = h.cfg.MaxInterval
	}
	if h.cfg.Multiplier > 0 {
		b.Multiplier = h.cfg.Multiplier
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		// zero means no limit
		backoff.WithMaxElapsedTime(h.cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("reconnect failed, retrying", zap.Duration("backoff", next), zap.Error(err))
		}),
	}
	if h.cfg.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(h.cfg.MaxAttempts))
	}
	return opts
}

// Recovering reports whether a recovery is in progress.
func (h *Handler) Recovering() bool {
	return h.running.Load()
}

// Close cancels a running recovery and waits for it to return. Later
// notifications are ignored.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
