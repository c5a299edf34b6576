// Package pool provides the shared execution pool that runs consumer
// workers.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrExhausted is returned by Submit when every slot of the pool is busy.
var ErrExhausted = errors.New("execution pool exhausted")

// Pool runs submitted tasks on at most Size goroutines at a time.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	size   int
	logger *zap.Logger
}

// New creates a pool with size slots.
func New(size int, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	if logger == nil {
		return nil, errors.New("missing required deps for component: pool")
	}

	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger.Named("pool"),
	}, nil
}

// Submit schedules task on a free slot. It never blocks: when all slots are
// busy it returns ErrExhausted. The returned channel is closed once the task
// has returned and its slot is free again. A panicking task is logged and
// its slot is released.
func (p *Pool) Submit(task func()) (<-chan struct{}, error) {
	if !p.sem.TryAcquire(1) {
		return nil, fmt.Errorf("failed to submit task to pool of size %d: %w", p.size, ErrExhausted)
	}

	done := make(chan struct{})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(done)
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()

		task()
	}()

	return done, nil
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}
