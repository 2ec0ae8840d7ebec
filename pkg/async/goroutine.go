package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo executes fn in a goroutine with a timeout, panic recovery and error
// logging. Use it instead of a bare `go func()` for fire-and-forget work such
// as WebSocket pushes that must never fail the calling request.
func SafeGo(parentCtx context.Context, timeout time.Duration, logger *observability.Logger, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

type task struct {
	name string
	fn   func(context.Context) error
}

// WorkerPool is a bounded in-process pool. Tasks are processed in submission
// order by a fixed number of workers; a panicking task is logged and does not
// take its worker down.
type WorkerPool struct {
	workers int
	timeout time.Duration
	logger  *observability.Logger

	workCh chan task
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	// OnResult is called after each task with its error (nil on success)
	OnResult func(name string, err error, elapsed time.Duration)
}

// NewWorkerPool starts workers goroutines with the given queue depth
func NewWorkerPool(ctx context.Context, workers, queueDepth int, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < workers {
		queueDepth = workers * 2
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &WorkerPool{
		workers: workers,
		timeout: timeout,
		logger:  logger,
		workCh:  make(chan task, queueDepth),
		doneCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	go func() {
		p.wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Workers returns the number of workers
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Submit queues a task, blocking while the queue is full until ctx is done
func (p *WorkerPool) Submit(ctx context.Context, name string, fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- task{name: name, fn: fn}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", name, ctx.Err())
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.doneCh
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for t := range p.workCh {
		p.run(id, t)
	}
}

func (p *WorkerPool) run(id int, t task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = observability.MustRecover(r)
				p.logger.WithField("worker", id).WithField("task", t.name).WithStack().
					Errorf("PANIC in worker task: %v", r)
			}
		}()
		err = t.fn(ctx)
	}()

	if err != nil {
		p.logger.WithError(err).WithField("worker", id).WithField("task", t.name).Warn("worker task failed")
	}
	if p.OnResult != nil {
		p.OnResult(t.name, err, time.Since(start))
	}
}
