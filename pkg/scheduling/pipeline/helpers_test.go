package pipeline

import (
	"context"
	"strconv"
	"testing"

	"github.com/vnykmshr/taskchain/pkg/scheduling/workerpool"
)

type NotSupportedError struct {
	Op string
}

func (e *NotSupportedError) Error() string { return e.Op + ": not supported" }

type BaseError struct {
	Msg string
}

func (e BaseError) Error() string { return e.Msg }

// DerivedError is a more specific BaseError.
type DerivedError struct {
	BaseError
	Code int
}

func seven(_ context.Context) (int, error) { return 7, nil }

func doubleAndStringify(_ context.Context, n int) (string, error) {
	return strconv.Itoa(n * 2), nil
}

func failWith[T any](err error) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		var zero T
		return zero, err
	}
}

func newTestPool(t *testing.T) workerpool.Pool {
	t.Helper()
	pool := workerpool.New(2, 4)
	t.Cleanup(func() { <-pool.Shutdown() })
	return pool
}
