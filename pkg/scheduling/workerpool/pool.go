package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnykmshr/taskchain/pkg/logger"
)

// Task represents a unit of work that can be executed by a worker.
type Task interface {
	// Execute runs the task with the given context.
	// It should respect context cancellation and return any error encountered.
	Execute(ctx context.Context) error
}

// TaskFunc is a function type that implements the Task interface.
type TaskFunc func(ctx context.Context) error

// Execute implements the Task interface for TaskFunc.
func (f TaskFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Result represents the result of a task execution.
type Result struct {
	// Task is the original task that was executed
	Task Task

	// Error is any error that occurred during task execution
	Error error

	// Duration is how long the task took to execute
	Duration time.Duration

	// WorkerID identifies which worker executed the task
	WorkerID int
}

// Pool represents a worker pool that can execute tasks concurrently.
type Pool interface {
	// Submit adds a task to the pool for execution.
	// Returns an error if the pool is shut down or if the task cannot be queued.
	Submit(task Task) error

	// SubmitWithContext submits a task with a context for cancellation.
	// The context bounds the queuing operation and is handed to the task.
	SubmitWithContext(ctx context.Context, task Task) error

	// Shutdown initiates a graceful shutdown of the pool.
	// No new tasks will be accepted, but queued tasks will be completed.
	// Returns a channel that closes when shutdown is complete.
	Shutdown() <-chan struct{}

	// Size returns the number of workers in the pool.
	Size() int

	// QueueSize returns the current number of queued tasks waiting for execution.
	QueueSize() int

	// ActiveWorkers returns the number of workers currently executing tasks.
	ActiveWorkers() int

	// TotalSubmitted returns the total number of tasks submitted to the pool.
	TotalSubmitted() int64

	// TotalCompleted returns the total number of tasks completed by the pool.
	TotalCompleted() int64
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// WorkerCount is the number of workers in the pool.
	// Must be greater than 0.
	WorkerCount int

	// QueueSize is the maximum number of tasks that can be queued.
	// If 0, submission blocks until a worker picks the task up.
	QueueSize int

	// TaskTimeout is the default timeout for individual task execution.
	// Zero means no timeout.
	TaskTimeout time.Duration

	// PanicHandler is called when a worker panics during task execution.
	// If nil, panics are recovered, logged and reported as task errors.
	PanicHandler func(task Task, recovered interface{})

	// OnTaskComplete is called after a task completes (success or failure).
	OnTaskComplete func(result Result)

	// Logger receives worker lifecycle and panic entries. Defaults to a noop logger.
	Logger logger.Logger
}

type taskWithContext struct {
	task Task
	ctx  context.Context
}

// workerPool implements the Pool interface.
type workerPool struct {
	config Config
	logger logger.Logger

	taskQueue    chan taskWithContext
	shutdownCh   chan struct{}
	doneCh       chan struct{}
	shutdownOnce sync.Once

	mu         sync.RWMutex
	isShutdown bool

	activeWorkers  atomic.Int64
	totalSubmitted atomic.Int64
	totalCompleted atomic.Int64

	workerWg sync.WaitGroup
}

// worker represents a single worker in the pool.
type worker struct {
	id   int
	pool *workerPool
}
