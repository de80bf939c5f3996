package async

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
)

// All returns a future that settles once every input has settled. On success
// it holds the values in input order; otherwise it holds every error the
// inputs settled with, combined.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	out := newFuture[[]T]()

	go func() {
		values := make([]T, len(futures))
		p := pool.New().WithErrors()
		for i, f := range futures {
			p.Go(func() error {
				if f == nil {
					return errNilFuture
				}
				v, err := f.Wait()
				if err == nil {
					values[i] = v
				}
				return err
			})
		}
		if err := p.Wait(); err != nil {
			out.settle(nil, multierr.Combine(Errors(err)...))
			return
		}
		out.settle(values, nil)
	}()

	return out
}

var errNilFuture = errors.New("async: nil future")

// Errors splits err into its constituent errors. Errors combined with
// errors.Join or multierr are flattened recursively; a nil error yields nil.
func Errors(err error) []error {
	if err == nil {
		return nil
	}
	var parts []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts = joined.Unwrap()
	} else {
		parts = multierr.Errors(err)
	}
	if len(parts) == 1 && parts[0] == err {
		return parts
	}
	var out []error
	for _, part := range parts {
		out = append(out, Errors(part)...)
	}
	return out
}

// IsCanceled reports whether err represents a cancellation. A combined error
// is a cancellation only if every constituent is one.
func IsCanceled(err error) bool {
	parts := Errors(err)
	if len(parts) == 0 {
		return false
	}
	for _, part := range parts {
		if !isCancellation(part) {
			return false
		}
	}
	return true
}

func isCancellation(err error) bool {
	return tcerrors.IsTemporary(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
