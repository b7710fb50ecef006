package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolStats tracks worker pool counters.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Task is one unit of pool work.
type Task func(ctx context.Context) error

// WorkerPool bounds how many instances resume concurrently.
type WorkerPool struct {
	sem      chan struct{}
	wg       sync.WaitGroup
	stats    PoolStats
	mu       sync.Mutex
	done     chan struct{}
	closed   bool
	onActive func(active int64)
}

// NewWorkerPool creates a pool with the given max concurrency. onActive, if
// set, observes every change of the active count.
func NewWorkerPool(size int, onActive func(int64)) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:      make(chan struct{}, size),
		done:     make(chan struct{}),
		onActive: onActive,
	}
}

// Submit runs fn on a pool goroutine. It blocks while the pool is at
// capacity and respects ctx while waiting. done, if not nil, receives fn's
// result (a panic is reported as an error).
func (p *WorkerPool) Submit(ctx context.Context, fn Task, done func(error)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active(1)
	p.mu.Unlock()

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.stats.Panics, 1)
				err = fmt.Errorf("panic in pool task: %v", r)
			}
			if err != nil {
				atomic.AddInt64(&p.stats.Failed, 1)
			} else {
				atomic.AddInt64(&p.stats.Completed, 1)
			}
			p.active(-1)
			<-p.sem
			p.wg.Done()
			if done != nil {
				done(err)
			}
		}()
		err = fn(ctx)
	}()
	return nil
}

// RunAll submits every task and waits for all of them. The result slice is
// indexed like tasks; tasks that could not be submitted report the
// submission error.
func (p *WorkerPool) RunAll(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		i := i
		if err := p.Submit(ctx, task, func(err error) {
			errs[i] = err
			wg.Done()
		}); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for active tasks.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns a snapshot of the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Active:    atomic.LoadInt64(&p.stats.Active),
		Completed: atomic.LoadInt64(&p.stats.Completed),
		Failed:    atomic.LoadInt64(&p.stats.Failed),
		Panics:    atomic.LoadInt64(&p.stats.Panics),
	}
}

func (p *WorkerPool) active(delta int64) {
	n := atomic.AddInt64(&p.stats.Active, delta)
	if p.onActive != nil {
		p.onActive(n)
	}
}
