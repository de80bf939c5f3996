package async

import tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"

// Promise is the write side of a Future that is settled by hand.
type Promise[T any] struct {
	future *Future[T]
}

// NewPromise creates an unsettled promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{future: newFuture[T]()}
}

// Future returns the read side of the promise.
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Resolve settles the promise with value. It reports false if the promise
// was already settled.
func (p *Promise[T]) Resolve(value T) bool {
	return p.future.settle(value, nil)
}

// Reject settles the promise with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.future.settle(zero, err)
}

// Cancel settles the promise as cancelled.
func (p *Promise[T]) Cancel() bool {
	return p.Reject(tcerrors.ErrCanceled)
}
