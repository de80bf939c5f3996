package workerpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/common/validation"
	"github.com/vnykmshr/taskchain/pkg/logger"
)

// New creates a new worker pool with the specified number of workers and queue size.
// It panics on an invalid configuration; use NewWithConfig to get an error instead.
func New(workerCount, queueSize int) Pool {
	pool, err := NewWithConfig(Config{
		WorkerCount: workerCount,
		QueueSize:   queueSize,
	})
	if err != nil {
		panic(err)
	}
	return pool
}

// NewWithConfig creates a new worker pool with the specified configuration.
func NewWithConfig(config Config) (Pool, error) {
	if err := validation.ValidatePositive("workerpool", "WorkerCount", config.WorkerCount); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegative("workerpool", "QueueSize", float64(config.QueueSize)); err != nil {
		return nil, err
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "TaskTimeout", config.TaskTimeout); err != nil {
		return nil, err
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	pool := &workerPool{
		config:     config,
		logger:     log,
		taskQueue:  make(chan taskWithContext, config.QueueSize),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	pool.workerWg.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		w := &worker{id: i, pool: pool}
		go w.run()
	}

	return pool, nil
}

// Submit adds a task to the pool for execution.
// The task will be executed with context.Background().
// Use SubmitWithContext to provide a custom context.
func (p *workerPool) Submit(task Task) error {
	return p.SubmitWithContext(context.Background(), task)
}

// SubmitWithContext adds a task to the pool for execution with the given context.
// The context is passed to the task's Execute method, enabling timeout and
// cancellation propagation. If the pool has a TaskTimeout configured, the
// effective timeout will be the minimum of the context deadline and TaskTimeout.
func (p *workerPool) SubmitWithContext(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("task cannot be nil")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.isShutdown {
		return fmt.Errorf("cannot submit task: %w", tcerrors.ErrClosed)
	}

	// Check if context is already canceled before attempting to queue
	// This ensures deterministic behavior for pre-canceled contexts
	select {
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: context canceled: %w", ctx.Err())
	default:
	}

	twc := taskWithContext{
		task: task,
		ctx:  ctx,
	}

	select {
	case p.taskQueue <- twc:
		p.totalSubmitted.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cannot submit task: context canceled: %w", ctx.Err())
	}
}

// Shutdown initiates a graceful shutdown of the pool.
func (p *workerPool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		// Waits for in-flight submissions holding the read lock.
		p.mu.Lock()
		p.isShutdown = true
		p.mu.Unlock()

		close(p.shutdownCh)

		go func() {
			p.workerWg.Wait()
			close(p.doneCh)
		}()
	})

	return p.doneCh
}

// Size returns the number of workers in the pool.
func (p *workerPool) Size() int {
	return p.config.WorkerCount
}

// QueueSize returns the current number of queued tasks waiting for execution.
func (p *workerPool) QueueSize() int {
	return len(p.taskQueue)
}

// ActiveWorkers returns the number of workers currently executing tasks.
func (p *workerPool) ActiveWorkers() int {
	return int(p.activeWorkers.Load())
}

// TotalSubmitted returns the total number of tasks submitted to the pool.
func (p *workerPool) TotalSubmitted() int64 {
	return p.totalSubmitted.Load()
}

// TotalCompleted returns the total number of tasks completed by the pool.
func (p *workerPool) TotalCompleted() int64 {
	return p.totalCompleted.Load()
}

// run is the main loop for a worker.
func (w *worker) run() {
	defer w.pool.workerWg.Done()

	for {
		select {
		case twc := <-w.pool.taskQueue:
			w.executeTask(twc)
		case <-w.pool.shutdownCh:
			w.drain()
			return
		}
	}
}

// drain runs whatever is still queued once shutdown has been requested.
func (w *worker) drain() {
	for {
		select {
		case twc := <-w.pool.taskQueue:
			w.executeTask(twc)
		default:
			return
		}
	}
}

// executeTask executes a single task with the provided context.
func (w *worker) executeTask(twc taskWithContext) {
	start := time.Now()
	var err error

	w.pool.activeWorkers.Add(1)

	// Handle panics during task execution
	defer func() {
		if r := recover(); r != nil {
			if w.pool.config.PanicHandler != nil {
				w.pool.config.PanicHandler(twc.task, r)
			} else {
				err = fmt.Errorf("task panicked: %v\nStack trace:\n%s", r, debug.Stack())
				w.pool.logger.Error("worker recovered from task panic",
					zap.Int("worker_id", w.id),
					zap.Any("panic", r),
				)
			}
		}

		w.pool.activeWorkers.Add(-1)
		w.pool.totalCompleted.Add(1)

		if w.pool.config.OnTaskComplete != nil {
			w.pool.config.OnTaskComplete(Result{
				Task:     twc.task,
				Error:    err,
				Duration: time.Since(start),
				WorkerID: w.id,
			})
		}
	}()

	ctx := twc.ctx

	// Apply TaskTimeout if configured
	// The effective timeout is the minimum of the context deadline and TaskTimeout
	if w.pool.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.pool.config.TaskTimeout)
		defer cancel()
	}

	err = twc.task.Execute(ctx)
}
