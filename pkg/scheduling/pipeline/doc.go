/*
Package pipeline runs an ordered sequence of asynchronous stages, threading
each stage's value into the next, with lifecycle hooks and exact-category
error handlers at stage and pipeline level.

# Quick Start

	p, err := pipeline.New(pipeline.WithName("orders")).
		Then(pipeline.Task(func(ctx context.Context) (int, error) {
			return 7, nil
		})).
		Then(pipeline.Then(func(ctx context.Context, n int) (string, error) {
			return strconv.Itoa(n * 2), nil
		})).
		Build()
	if err != nil {
		return err // configuration error
	}

	if err := p.Execute(ctx); err != nil {
		return err // errors no handler claimed
	}

	out, _ := pipeline.Output[string](p) // "14"

# Resolvers

A stage is opened with a Resolver, which lazily produces the stage's
asynchronous operation (an *async.Future):

	pipeline.Task(fn)         // independent, runs fn on a goroutine
	pipeline.Action(fn)       // independent, produces no value
	pipeline.Resolve(fn)      // independent, fn returns the future itself
	pipeline.Then(fn)         // dependent on the previous stage's value
	pipeline.ThenDo(fn)       // dependent, produces no value
	pipeline.ResolveWith(fn)  // dependent, fn returns the future itself
	pipeline.Await(future)    // constant, an operation that already exists
	pipeline.Value(v)         // constant, an immediate value

Chaining a dependent resolver after a stage whose output type is not
assignable to its input fails when the stage is added, with a
*errors.TypeMismatchError.

# Stage Lifecycle

	Created -> Started -> Succeeded | Cancelled | Failed

A stage is skipped straight to Cancelled when cancellation was requested
before it started. The on-completed hook runs exactly once for every stage
that was reached, even when an earlier hook returned an error or panicked.

# Error Handling

Handlers are keyed by the exact dynamic type of the error:

	p, err := pipeline.New().
		Then(pipeline.Action(syncInventory)).
		Catch(pipeline.On(func(ctx context.Context, err *NotSupportedError) {
			log.Print("skipping unsupported source")
		})).
		Done().
		CatchGlobal(pipeline.On(func(ctx context.Context, err *net.OpError) {
			metrics.NetworkErrors.Inc()
		})).
		Build()

A handler for *BaseError does not fire for an error of another type, even
one that wraps or embeds *BaseError. Errors a stage does not claim escape to
the global table; errors nothing claims are returned by Execute, joined,
unless SuppressErrors is passed. Registering a second handler for the same
category in one table fails with *errors.DuplicateHandlerError.

# Cancellation

All stages share one cancellation source. Pipeline.Cancel, Pipeline.CancelAfter,
Builder.CancelAfter, Config.Timeout and cancelling the context passed to
Execute all signal it. Cancellation is checked before each stage; a stage
already awaiting its operation is never interrupted.

# Execution

A Pipeline executes once. The first stage that is cancelled or fails, or
that lets an error escape, stops the run and the global on-cancelled hook
runs; otherwise the global on-success hook runs. The global on-completed hook
always runs last.
*/
package pipeline
