package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/scheduling/workerpool"
)

// Awaitable is the untyped view of a Future used by code that handles
// futures of different result types.
type Awaitable interface {
	// Done is closed once the operation has settled.
	Done() <-chan struct{}

	// Outcome returns the settled value and error. It must only be called
	// after Done is closed.
	Outcome() (any, error)
}

// Future is the result of an asynchronous operation. It settles once.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

var _ Awaitable = (*Future[int])(nil)

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// settle records the outcome. It reports false if the future was already settled.
func (f *Future[T]) settle(value T, err error) bool {
	settled := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})
	return settled
}

// Done returns a channel that is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsSettled reports whether the future has settled.
func (f *Future[T]) IsSettled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles and returns its outcome.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await is like Wait but gives up when ctx is done. Giving up does not
// cancel the underlying operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Outcome implements Awaitable.
func (f *Future[T]) Outcome() (any, error) {
	<-f.done
	if f.err != nil {
		return nil, f.err
	}
	return f.value, nil
}

// Go runs fn on a new goroutine. A panic in fn settles the future with a
// *PanicError.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	go run(ctx, f, fn)
	return f
}

// Submit runs fn on pool. If the pool refuses the task the returned future
// is already failed with the submission error.
func Submit[T any](ctx context.Context, pool workerpool.Pool, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	task := workerpool.TaskFunc(func(taskCtx context.Context) error {
		run(taskCtx, f, fn)
		_, err := f.Wait()
		return err
	})
	if err := pool.SubmitWithContext(ctx, task); err != nil {
		var zero T
		f.settle(zero, tcerrors.NewOperationError("async", "Submit", err))
	}
	return f
}

func run[T any](ctx context.Context, f *Future[T], fn func(context.Context) (T, error)) {
	var (
		value T
		err   error
	)
	if recovered := panics.Try(func() { value, err = fn(ctx) }); recovered != nil {
		var zero T
		f.settle(zero, newPanicError(recovered))
		return
	}
	f.settle(value, err)
}

// Completed returns a future already settled with value.
func Completed[T any](value T) *Future[T] {
	f := newFuture[T]()
	f.settle(value, nil)
	return f
}

// Failed returns a future already settled with err.
func Failed[T any](err error) *Future[T] {
	if err == nil {
		err = fmt.Errorf("async: Failed called with nil error")
	}
	f := newFuture[T]()
	var zero T
	f.settle(zero, err)
	return f
}

// Canceled returns a future already settled as cancelled.
func Canceled[T any]() *Future[T] {
	return Failed[T](tcerrors.ErrCanceled)
}

// PanicError is the error a future settles with when its operation panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(r *panics.Recovered) *PanicError {
	return &PanicError{Value: r.Value, Stack: r.Stack}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

// Unwrap returns the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Recover runs fn and converts a panic into a *PanicError.
func Recover(fn func() error) (err error) {
	if recovered := panics.Try(func() { err = fn() }); recovered != nil {
		return newPanicError(recovered)
	}
	return err
}
