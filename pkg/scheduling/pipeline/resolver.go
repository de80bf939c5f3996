package pipeline

import (
	"context"
	"errors"
	"reflect"

	"github.com/vnykmshr/taskchain/pkg/async"
)

// ErrNilOperation is the failure recorded for a stage whose resolver
// produced no asynchronous operation.
var ErrNilOperation = errors.New("pipeline: resolver returned a nil operation")

type resolverKind int

const (
	independent resolverKind = iota
	dependent
	constant
)

// Resolver lazily produces the asynchronous operation of one stage. Build
// one with Task, Action, Resolve, Then, ThenDo, ResolveWith, Await or Value.
//
// A resolver declares the type it consumes (dependent resolvers only) and
// the type it produces (nil when the stage produces no value). The builder
// checks these declarations when stages are chained.
type Resolver struct {
	kind    resolverKind
	in      reflect.Type
	out     reflect.Type
	resolve func(ctx context.Context, input any) async.Awaitable
}

// IsZero reports whether r was not built by one of the constructors.
func (r Resolver) IsZero() bool {
	return r.resolve == nil
}

// Dependent reports whether r consumes the previous stage's value.
func (r Resolver) Dependent() bool {
	return r.kind == dependent
}

// Input returns the type a dependent resolver consumes, or nil.
func (r Resolver) Input() reflect.Type {
	return r.in
}

// Output returns the type the resolver produces, or nil for value-less stages.
func (r Resolver) Output() reflect.Type {
	return r.out
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// coerce unpacks a value checked at build time with AssignableTo. A value
// whose dynamic type differs from T only by name, such as []int into a named
// slice type, is converted rather than asserted.
func coerce[T any](v any) T {
	if t, ok := v.(T); ok {
		return t
	}
	var zero T
	if v == nil {
		return zero
	}
	rv := reflect.ValueOf(v)
	target := typeOf[T]()
	if !rv.Type().ConvertibleTo(target) {
		return zero
	}
	return rv.Convert(target).Interface().(T)
}

func awaitable[T any](f *async.Future[T]) async.Awaitable {
	if f == nil {
		return async.Failed[T](ErrNilOperation)
	}
	return f
}

func discard(ctx context.Context, fn func(context.Context) error) (struct{}, error) {
	return struct{}{}, fn(ctx)
}

// Task returns an independent resolver that runs fn on its own goroutine.
func Task[T any](fn func(context.Context) (T, error)) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: independent,
		out:  typeOf[T](),
		resolve: func(ctx context.Context, _ any) async.Awaitable {
			return async.Go(ctx, fn)
		},
	}
}

// Action returns an independent resolver for work that produces no value.
func Action(fn func(context.Context) error) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: independent,
		resolve: func(ctx context.Context, _ any) async.Awaitable {
			return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
				return discard(ctx, fn)
			})
		},
	}
}

// Resolve returns an independent resolver for callers that create the
// future themselves, for example with async.Submit or async.All.
func Resolve[T any](fn func(context.Context) *async.Future[T]) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: independent,
		out:  typeOf[T](),
		resolve: func(ctx context.Context, _ any) async.Awaitable {
			return awaitable(fn(ctx))
		},
	}
}

// Then returns a dependent resolver that receives the previous stage's value.
func Then[In, Out any](fn func(context.Context, In) (Out, error)) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: dependent,
		in:   typeOf[In](),
		out:  typeOf[Out](),
		resolve: func(ctx context.Context, input any) async.Awaitable {
			in := coerce[In](input)
			return async.Go(ctx, func(ctx context.Context) (Out, error) {
				return fn(ctx, in)
			})
		},
	}
}

// ThenDo returns a dependent resolver that consumes the previous stage's
// value and produces none.
func ThenDo[In any](fn func(context.Context, In) error) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: dependent,
		in:   typeOf[In](),
		resolve: func(ctx context.Context, input any) async.Awaitable {
			in := coerce[In](input)
			return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
				return discard(ctx, func(ctx context.Context) error { return fn(ctx, in) })
			})
		},
	}
}

// ResolveWith is the dependent form of Resolve.
func ResolveWith[In, Out any](fn func(context.Context, In) *async.Future[Out]) Resolver {
	if fn == nil {
		return Resolver{}
	}
	return Resolver{
		kind: dependent,
		in:   typeOf[In](),
		out:  typeOf[Out](),
		resolve: func(ctx context.Context, input any) async.Awaitable {
			in := coerce[In](input)
			return awaitable(fn(ctx, in))
		},
	}
}

// Await returns a constant resolver wrapping an operation that already exists.
func Await[T any](f *async.Future[T]) Resolver {
	if f == nil {
		return Resolver{}
	}
	return Resolver{
		kind: constant,
		out:  typeOf[T](),
		resolve: func(context.Context, any) async.Awaitable {
			return f
		},
	}
}

// Value returns a constant resolver for an immediate value.
func Value[T any](v T) Resolver {
	return Await(async.Completed(v))
}
