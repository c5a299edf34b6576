package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mqsource/internal/source"
	"mqsource/internal/validator"
)

// ErrGroupStarted is returned when Run is called on a group that already ran.
var ErrGroupStarted = errors.New("consumer group already started")

// Group owns a fixed set of workers sharing one configuration, connection
// factory and listener.
type Group struct {
	app      string
	cfg      source.Config
	factory  source.ConnectionFactory
	executor source.Executor
	retry    source.RetryHandler
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	paused  bool
	workers []*Worker
	// slots holds one executor completion channel per submitted worker,
	// including those submitted by a Run that failed.
	slots []<-chan struct{}
}

// NewGroup creates a group. Workers are created by Run.
func NewGroup(
	app string,
	cfg source.Config,
	factory source.ConnectionFactory,
	executor source.Executor,
	retry source.RetryHandler,
	logger *zap.Logger,
) (*Group, error) {
	g := Group{
		app:      app,
		cfg:      cfg,
		factory:  factory,
		executor: executor,
		retry:    retry,
		logger:   logger,
	}

	if err := validator.Validate("consumer group", g.app, g.factory, g.executor, g.retry, g.logger); err != nil {
		return nil, fmt.Errorf("failed to validate consumer group deps: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}

	g.logger = logger.Named("consumer-group").With(zap.String("app", app), zap.String("queue", cfg.QueueName))
	return &g, nil
}

// Run connects WorkerCount workers, in order, and submits them to the
// executor. If any worker fails to connect, the workers connected before it
// are shut down and the error is returned: it matches
// source.ErrConnectionUnavailable when the backend is unreachable and
// source.ErrFatal otherwise.
func (g *Group) Run(ctx context.Context, listener source.Listener) error {
	if listener == nil {
		return errors.New("listener is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return ErrGroupStarted
	}
	g.started = true

	workers := make([]*Worker, 0, g.cfg.WorkerCount)
	for i := 0; i < g.cfg.WorkerCount; i++ {
		w, err := NewWorker(ctx, i, g.cfg, g.factory, listener, g.retry, g.logger)
		if err != nil {
			shutdown(workers)
			return fmt.Errorf("failed to connect the source for queue '%s' in app '%s': %w",
				g.cfg.DestinationName, g.app, err)
		}

		workers = append(workers, w)
		g.logger.Info("consumer worker starting to listen", zap.Int("worker", i))
	}

	slots := make([]<-chan struct{}, 0, len(workers))
	for _, w := range workers {
		if g.paused {
			w.Pause()
		}
		done, err := g.executor.Submit(w.Run)
		if err != nil {
			shutdown(workers)
			g.slots = slots
			return fmt.Errorf("%w: failed to submit worker %d for queue '%s': %w",
				source.ErrFatal, w.ID(), g.cfg.DestinationName, err)
		}
		slots = append(slots, done)
	}

	g.workers = workers
	g.slots = slots
	return nil
}

// Pause pauses every worker. A group paused before Run starts its workers
// paused.
func (g *Group) Pause() {
	for _, w := range g.setPaused(true) {
		w.Pause()
	}
}

// Resume resumes every worker.
func (g *Group) Resume() {
	for _, w := range g.setPaused(false) {
		w.Resume()
	}
}

func (g *Group) setPaused(paused bool) []*Worker {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.paused = paused
	return g.workers
}

// Shutdown shuts every worker down.
func (g *Group) Shutdown() {
	shutdown(g.snapshot())
}

// Workers returns the number of workers the group runs.
func (g *Group) Workers() int {
	return len(g.snapshot())
}

// Wait blocks until every submitted worker has given its executor slot back
// or ctx is done. After a failed Run it covers the workers submitted before
// the failure.
func (g *Group) Wait(ctx context.Context) error {
	g.mu.Lock()
	slots := g.slots
	g.mu.Unlock()

	for _, done := range slots {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (g *Group) snapshot() []*Worker {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.workers
}

func shutdown(workers []*Worker) {
	for _, w := range workers {
		w.Shutdown()
	}
}
