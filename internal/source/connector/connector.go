// Package connector owns the lifecycle of a consumer group: it starts one,
// replaces it when the retry handler asks for a reconnect, and keeps the
// pause state across replacements.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"mqsource/internal/source"
	"mqsource/internal/source/consumer"
	"mqsource/internal/validator"
)

var (
	// ErrDisconnected is returned by Reconnect when the source was never
	// connected or has been disconnected.
	ErrDisconnected = errors.New("source is disconnected")

	// ErrConnected is returned by Connect when the source is already
	// connected.
	ErrConnected = errors.New("source is already connected")
)

// Connector implements source.Source on top of consumer.Group.
type Connector struct {
	app      string
	cfg      source.Config
	factory  source.ConnectionFactory
	executor source.Executor
	logger   *zap.Logger

	// lifecycle serializes Connect, Reconnect and Disconnect. It is held
	// while a group shuts down, so it is never taken by Pause or Resume.
	lifecycle sync.Mutex

	mu       sync.Mutex
	retry    source.RetryHandler
	listener source.Listener
	group    *consumer.Group
	paused   bool
}

var _ source.Source = (*Connector)(nil)

// New creates a disconnected source for app.
func New(
	app string,
	cfg source.Config,
	factory source.ConnectionFactory,
	executor source.Executor,
	logger *zap.Logger,
) (*Connector, error) {
	c := Connector{
		app:      app,
		cfg:      cfg,
		factory:  factory,
		executor: executor,
		logger:   logger,
	}

	if err := validator.Validate("connector", c.app, c.factory, c.executor, c.logger); err != nil {
		return nil, fmt.Errorf("failed to validate connector deps: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid consumer config: %w", err)
	}

	c.logger = logger.Named("connector").With(zap.String("app", app), zap.String("queue", cfg.QueueName))
	c.retry = source.RetryHandlerFunc(func(err error) {
		c.logger.Warn("no retry handler set, dropping failure", zap.Error(err))
	})

	return &c, nil
}

// SetRetryHandler sets the handler given to groups started afterwards.
func (c *Connector) SetRetryHandler(retry source.RetryHandler) {
	if retry == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.retry = retry
}

// Connect starts a group delivering events to listener. When the group
// cannot start the listener is kept, so a later Reconnect may succeed.
func (c *Connector) Connect(ctx context.Context, listener source.Listener) error {
	if listener == nil {
		return errors.New("listener is required")
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.group != nil {
		c.mu.Unlock()
		return ErrConnected
	}
	c.listener = listener
	c.mu.Unlock()

	return c.start(ctx)
}

// Reconnect shuts the running group down, if any, and starts a new one.
func (c *Connector) Reconnect(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.listener == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	old := c.group
	c.group = nil
	c.mu.Unlock()

	if old != nil {
		old.Shutdown()
		// the old workers must leave the executor before new ones join
		if err := old.Wait(ctx); err != nil {
			return fmt.Errorf("failed to stop consumer group: %w", err)
		}
	}

	c.logger.Info("reconnecting source")
	return c.start(ctx)
}

// start runs a new group. The caller holds lifecycle but not mu.
func (c *Connector) start(ctx context.Context) error {
	c.mu.Lock()
	paused, retry, listener := c.paused, c.retry, c.listener
	c.mu.Unlock()

	g, err := consumer.NewGroup(c.app, c.cfg, c.factory, c.executor, retry, c.logger)
	if err != nil {
		return fmt.Errorf("%w: failed to create consumer group: %w", source.ErrFatal, err)
	}
	if paused {
		g.Pause()
	}

	if err := g.Run(ctx, listener); err != nil {
		const errMsg = "failed to start consumer group"
		c.logger.Error(errMsg, zap.Error(err))

		// workers submitted before the failure still hold executor slots
		if werr := g.Wait(ctx); werr != nil {
			c.logger.Warn("failed to wait for partially started group", zap.Error(werr))
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.group = g
	// Pause or Resume may have been called while the group was starting
	if c.paused {
		g.Pause()
	} else if paused {
		g.Resume()
	}

	c.logger.Info("source connected", zap.Int("workers", g.Workers()), zap.Bool("paused", c.paused))
	return nil
}

// Pause pauses the running group. A group started later starts paused.
// It may be called from a listener.
func (c *Connector) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = true
	if c.group != nil {
		c.group.Pause()
	}
}

// Resume resumes the running group. It may be called from a listener.
func (c *Connector) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.paused = false
	if c.group != nil {
		c.group.Resume()
	}
}

// Disconnect shuts the running group down. Reconnect fails until the next
// Connect.
func (c *Connector) Disconnect() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	g := c.group
	c.group = nil
	c.listener = nil
	c.mu.Unlock()

	if g != nil {
		g.Shutdown()
	}
	c.logger.Info("source disconnected")
}

// Ready reports whether a group is running.
func (c *Connector) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.group != nil
}

// Paused reports whether the source is paused.
func (c *Connector) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paused
}

// Workers returns the number of workers of the running group.
func (c *Connector) Workers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return 0
	}
	return c.group.Workers()
}
