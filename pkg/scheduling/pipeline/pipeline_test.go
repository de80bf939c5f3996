package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/taskchain/internal/testutil"
	tccontext "github.com/vnykmshr/taskchain/pkg/common/context"
	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/async"
	"github.com/vnykmshr/taskchain/pkg/logger"
	"github.com/vnykmshr/taskchain/pkg/metrics"
)

func TestDoubleAndStringify(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnSuccess(rec.Hook("success")).
		OnCancelled(rec.Hook("cancelled")).
		OnCompleted(rec.Hook("completed")).
		Then(Task(seven)).
		Then(Then(doubleAndStringify)).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))

	out, ok := Output[string](p)
	require.True(t, ok)
	require.Equal(t, "14", out)

	require.Equal(t, 1, rec.Count("success"))
	require.Equal(t, 1, rec.Count("completed"))
	require.Equal(t, 0, rec.Count("cancelled"))
	require.Equal(t, OutcomeSucceeded, p.Outcome())

	for _, s := range p.Stages() {
		require.Equal(t, Succeeded, s.State())
		require.True(t, s.Completed())
	}

	first, ok := ValueOf[int](p.Stage(0))
	require.True(t, ok)
	require.Equal(t, 7, first)
}

func TestHookOrder(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnSuccess(rec.Hook("pipeline.success")).
		OnCompleted(rec.Hook("pipeline.completed")).
		Then(Action(rec.Hook("a"))).
		OnSuccess(rec.Hook("a.success")).
		OnCompleted(rec.Hook("a.completed")).
		Then(Action(rec.Hook("b"))).
		OnSuccess(rec.Hook("b.success")).
		OnCompleted(rec.Hook("b.completed")).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	require.Equal(t, []string{
		"a", "a.success", "a.completed",
		"b", "b.success", "b.completed",
		"pipeline.success", "pipeline.completed",
	}, rec.Events())
}

func TestFailingStageStopsPipeline(t *testing.T) {
	rec := testutil.NewRecorder()
	notSupported := &NotSupportedError{Op: "import"}

	p, err := New().
		OnSuccess(rec.Hook("success")).
		OnCancelled(rec.Hook("cancelled")).
		OnCompleted(rec.Hook("completed")).
		Then(Task(failWith[int](notSupported))).
		Then(Then(func(ctx context.Context, n int) (string, error) {
			rec.Record("b started")
			return doubleAndStringify(ctx, n)
		})).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())

	var nse *NotSupportedError
	require.ErrorAs(t, err, &nse)
	require.Same(t, notSupported, nse)

	require.False(t, rec.Has("b started"))
	require.Equal(t, 1, rec.Count("cancelled"))
	require.Equal(t, 1, rec.Count("completed"))
	require.Equal(t, 0, rec.Count("success"))

	require.Equal(t, Failed, p.Stage(0).State())
	require.True(t, p.Stage(0).Completed())
	require.ErrorIs(t, p.Stage(0).Err(), notSupported)
	require.Equal(t, Created, p.Stage(1).State())
	require.False(t, p.Stage(1).Completed())
	require.Equal(t, OutcomeFailed, p.Outcome())

	_, ok := Output[string](p)
	require.False(t, ok)
}

func TestCancelAfterZero(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		CancelAfter(0).
		OnSuccess(rec.Hook("success")).
		OnCancelled(rec.Hook("cancelled")).
		OnCompleted(rec.Hook("completed")).
		Then(Task(func(context.Context) (int, error) {
			rec.Record("resolver")
			return 1, nil
		})).
		OnCancelled(rec.Hook("stage.cancelled")).
		OnCompleted(rec.Hook("stage.completed")).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))

	require.Equal(t, []string{"stage.cancelled", "stage.completed", "cancelled", "completed"}, rec.Events())
	require.Equal(t, Cancelled, p.Stage(0).State())
	require.True(t, p.Stage(0).Completed())
	require.Equal(t, OutcomeCancelled, p.Outcome())
}

func TestExactCategoryDispatch(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fires bool
	}{
		{"exact category", &BaseError{Msg: "base"}, true},
		{"more specific category", &DerivedError{BaseError: BaseError{Msg: "derived"}}, false},
		{"wrapped exact category", fmt.Errorf("context: %w", &BaseError{Msg: "wrapped"}), false},
		{"value instead of pointer", BaseError{Msg: "value"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fired atomic.Int32

			p, err := New().
				Then(Action(func(context.Context) error { return tt.err })).
				Catch(On(func(_ context.Context, err *BaseError) {
					fired.Add(1)
				})).
				Build()
			require.NoError(t, err)

			err = p.Execute(context.Background())

			if tt.fires {
				require.NoError(t, err)
				require.Equal(t, int32(1), fired.Load())
			} else {
				require.ErrorIs(t, err, tt.err)
				require.Equal(t, int32(0), fired.Load())
			}
			require.Equal(t, Failed, p.Stage(0).State())
		})
	}
}

func TestStageHandlerClaimsError(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnCancelled(rec.Hook("cancelled")).
		CatchGlobal(On(func(context.Context, *NotSupportedError) { rec.Record("global") })).
		Then(Task(failWith[int](&NotSupportedError{Op: "a"}))).
		Catch(On(func(_ context.Context, err *NotSupportedError) {
			rec.Record("local " + err.Op)
		})).
		Then(Action(rec.Hook("b"))).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, []string{"local a", "cancelled"}, rec.Events())
	require.Equal(t, OutcomeFailed, p.Outcome())
}

func TestGlobalHandlerClaimsEscapedError(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		CatchGlobal(On(func(_ context.Context, err *NotSupportedError) {
			rec.Record("global " + err.Op)
		})).
		Then(Action(func(context.Context) error { return &NotSupportedError{Op: "a"} })).
		Catch(On(func(context.Context, *BaseError) { rec.Record("local") })).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, []string{"global a"}, rec.Events())
}

func TestMultipleErrorsDispatchedIndependently(t *testing.T) {
	rec := testutil.NewRecorder()
	base := &BaseError{Msg: "left over"}

	p, err := New().
		OnCompleted(rec.Hook("completed")).
		Then(Resolve(func(context.Context) *async.Future[[]int] {
			return async.All(
				async.Failed[int](&NotSupportedError{Op: "one"}),
				async.Completed(2),
				async.Failed[int](base),
			)
		})).
		Catch(On(func(context.Context, *NotSupportedError) { rec.Record("claimed") })).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	require.ErrorIs(t, err, base)

	var nse *NotSupportedError
	require.False(t, errors.As(err, &nse), "claimed error must not be returned")
	require.Equal(t, 1, rec.Count("claimed"))
	require.Equal(t, 1, rec.Count("completed"))
}

func TestSuccessHookErrorEscapesStage(t *testing.T) {
	rec := testutil.NewRecorder()
	hookErr := &NotSupportedError{Op: "hook"}

	p, err := New().
		OnSuccess(rec.Hook("success")).
		OnCancelled(rec.Hook("cancelled")).
		OnCompleted(rec.Hook("completed")).
		Then(Task(seven)).
		OnSuccess(func(context.Context) error { return hookErr }).
		OnCompleted(rec.Hook("stage.completed")).
		Catch(On(func(context.Context, *NotSupportedError) { rec.Record("local") })).
		Then(Action(rec.Hook("b"))).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	require.ErrorIs(t, err, hookErr)

	require.Equal(t, []string{"stage.completed", "cancelled", "completed"}, rec.Events())
	require.Equal(t, Succeeded, p.Stage(0).State())
	require.Equal(t, Created, p.Stage(1).State())
	require.Equal(t, OutcomeFailed, p.Outcome())
}

func TestOnCompletedRunsAfterPanickingHook(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnCompleted(rec.Hook("completed")).
		Then(Task(seven)).
		OnSuccess(func(context.Context) error { panic("hook exploded") }).
		OnCompleted(rec.Hook("stage.completed")).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())

	var perr *async.PanicError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "hook exploded", perr.Value)
	require.Equal(t, []string{"stage.completed", "completed"}, rec.Events())
}

func TestPanickingResolverFails(t *testing.T) {
	p, err := New().
		Then(Task(func(context.Context) (int, error) { panic("resolver exploded") })).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())

	var perr *async.PanicError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, Failed, p.Stage(0).State())

	p, err = New().
		Then(Resolve(func(context.Context) *async.Future[int] { panic("before future") })).
		Build()
	require.NoError(t, err)
	require.ErrorAs(t, p.Execute(context.Background()), &perr)
}

func TestNilOperationFails(t *testing.T) {
	p, err := New().
		Then(Resolve(func(context.Context) *async.Future[int] { return nil })).
		Build()
	require.NoError(t, err)

	require.ErrorIs(t, p.Execute(context.Background()), ErrNilOperation)
	require.Equal(t, Failed, p.Stage(0).State())
}

func TestFutureSettledAsCancelled(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnCancelled(rec.Hook("cancelled")).
		Then(Await(async.Canceled[int]())).
		OnCancelled(rec.Hook("stage.cancelled")).
		Catch(On(func(context.Context, *NotSupportedError) { rec.Record("handler") })).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, []string{"stage.cancelled", "cancelled"}, rec.Events())
	require.Equal(t, Cancelled, p.Stage(0).State())
	require.ErrorIs(t, p.Stage(0).Err(), tcerrors.ErrCanceled)
}

func TestCancelDoesNotPreemptRunningStage(t *testing.T) {
	rec := testutil.NewRecorder()
	promise := async.NewPromise[int]()

	p, err := New().
		OnCancelled(rec.Hook("cancelled")).
		Then(Await(promise.Future())).
		Then(Then(doubleAndStringify)).
		OnCancelled(rec.Hook("b.cancelled")).
		Build()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Execute(context.Background()) }()

	testutil.Eventually(t, func() bool { return p.Stage(0).State() == Started }, testutil.TestTimeout, time.Millisecond)
	p.Cancel()
	promise.Resolve(21)

	require.NoError(t, <-done)
	require.Equal(t, Succeeded, p.Stage(0).State())
	require.Equal(t, Cancelled, p.Stage(1).State())
	require.Equal(t, []string{"b.cancelled", "cancelled"}, rec.Events())

	v, ok := ValueOf[int](p.Stage(0))
	require.True(t, ok)
	require.Equal(t, 21, v)
}

func TestCallerContextCancelled(t *testing.T) {
	var invoked atomic.Bool

	p, err := New().
		Then(Action(func(context.Context) error {
			invoked.Store(true)
			return nil
		})).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Execute(ctx))
	require.False(t, invoked.Load())
	require.Equal(t, Cancelled, p.Stage(0).State())
}

func TestSharedCancellationSource(t *testing.T) {
	source := tccontext.NewSource()
	source.Cancel()

	p, err := New().
		WithCancellation(tccontext.NewSource()).
		WithCancellation(source).
		Then(Value(1)).
		Build()
	require.NoError(t, err)
	require.Same(t, source, p.Source())

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, Cancelled, p.Stage(0).State())
}

func TestDeadlineOnSharedSourceIsRunLocal(t *testing.T) {
	source := tccontext.NewSource()
	defer source.Close()

	first, err := New().
		WithCancellation(source).
		CancelAfter(0).
		Then(Value(1)).
		Build()
	require.NoError(t, err)
	require.NoError(t, first.Execute(context.Background()))
	require.Equal(t, Cancelled, first.Stage(0).State())
	require.False(t, source.IsCancellationRequested())

	source.CancelAfter(30 * time.Millisecond)

	second, err := New(WithTimeout(time.Hour)).
		WithCancellation(source).
		Then(Value(2)).
		Build()
	require.NoError(t, err)
	require.NoError(t, second.Execute(context.Background()))
	require.Equal(t, Succeeded, second.Stage(0).State())

	select {
	case <-source.Context().Done():
	case <-time.After(testutil.TestTimeout):
		t.Fatal("caller deadline on shared source was cleared by the run")
	}
	require.True(t, tccontext.IsTimedOut(source.Context()))
}

func TestSharedSourceCancelReachesDeadlineRun(t *testing.T) {
	source := tccontext.NewSource()
	source.Cancel()

	p, err := New(WithTimeout(time.Hour)).
		WithCancellation(source).
		Then(Value(1)).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, Cancelled, p.Stage(0).State())
}

func TestTimeoutStopsCooperativeStage(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New(WithTimeout(20 * time.Millisecond)).
		OnCancelled(rec.Hook("cancelled")).
		Then(Task(func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})).
		Then(Action(rec.Hook("b"))).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, Cancelled, p.Stage(0).State())
	require.Equal(t, []string{"cancelled"}, rec.Events())
	require.True(t, tccontext.IsTimedOut(p.Source().Context()))
}

func TestSuppressErrors(t *testing.T) {
	rec := testutil.NewRecorder()
	log, logs := logger.NewObserverLogger("debug")

	p, err := New(WithLogger(log)).
		OnCancelled(rec.Hook("cancelled")).
		OnCompleted(rec.Hook("completed")).
		Then(Action(func(context.Context) error { return errors.New("dropped") })).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), SuppressErrors()))
	require.Equal(t, []string{"cancelled", "completed"}, rec.Events())
	require.Equal(t, 1, logs.FilterMessage("unhandled pipeline errors suppressed").Len())
}

func TestGlobalOnCompletedErrorJoined(t *testing.T) {
	completedErr := errors.New("completed failed")
	stageErr := errors.New("stage failed")

	p, err := New().
		OnCompleted(func(context.Context) error { return completedErr }).
		Then(Action(func(context.Context) error { return stageErr })).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	require.ErrorIs(t, err, completedErr)
	require.ErrorIs(t, err, stageErr)
}

func TestGlobalHookErrorsDispatched(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnSuccess(func(context.Context) error { return &NotSupportedError{Op: "notify"} }).
		CatchGlobal(On(func(_ context.Context, err *NotSupportedError) { rec.Record(err.Op) })).
		Then(Value("ok")).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, []string{"notify"}, rec.Events())
	require.Equal(t, OutcomeSucceeded, p.Outcome())
}

func TestExecuteOnce(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnCompleted(rec.Hook("completed")).
		Then(Value(1)).
		Build()
	require.NoError(t, err)

	require.False(t, p.Executed())
	require.NoError(t, p.Execute(context.Background()))
	require.True(t, p.Executed())

	err = p.Execute(context.Background())
	require.ErrorIs(t, err, tcerrors.ErrAlreadyExecuted)
	require.Equal(t, 1, rec.Count("completed"))
}

func TestEmptyPipelineSucceeds(t *testing.T) {
	rec := testutil.NewRecorder()

	p, err := New().
		OnSuccess(rec.Hook("success")).
		OnCompleted(rec.Hook("completed")).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, []string{"success", "completed"}, rec.Events())

	_, ok := Output[int](p)
	require.False(t, ok)
}

func TestValueHook(t *testing.T) {
	var got atomic.Int64

	p, err := New().
		Then(Task(seven)).
		OnValue(WithValue(func(_ context.Context, n int) error {
			got.Store(int64(n))
			return nil
		})).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))
	require.Equal(t, int64(7), got.Load())
}

func TestSubmitOnWorkerPool(t *testing.T) {
	pool := newTestPool(t)

	p, err := New().
		Then(Resolve(func(ctx context.Context) *async.Future[int] {
			return async.Submit(ctx, pool, seven)
		})).
		Then(ResolveWith(func(ctx context.Context, n int) *async.Future[string] {
			return async.Submit(ctx, pool, func(ctx context.Context) (string, error) {
				return doubleAndStringify(ctx, n)
			})
		})).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	out, ok := Output[string](p)
	require.True(t, ok)
	require.Equal(t, "14", out)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg)

	ok, err := New(WithName("orders"), WithMetrics(registry)).
		Then(Task(seven)).
		Then(Then(doubleAndStringify)).
		Build()
	require.NoError(t, err)
	require.NoError(t, ok.Execute(context.Background()))

	failing, err := New(WithName("orders"), WithMetrics(registry)).
		Then(Action(func(context.Context) error { return &NotSupportedError{Op: "x"} })).
		Catch(On(func(context.Context, *NotSupportedError) {})).
		Build()
	require.NoError(t, err)
	require.NoError(t, failing.Execute(context.Background()))

	require.Equal(t, float64(1), promtestutil.ToFloat64(registry.PipelineRuns.WithLabelValues("orders", metrics.OutcomeSucceeded)))
	require.Equal(t, float64(1), promtestutil.ToFloat64(registry.PipelineRuns.WithLabelValues("orders", metrics.OutcomeFailed)))
	require.Equal(t, float64(2), promtestutil.ToFloat64(registry.StageTransitions.WithLabelValues("orders", "succeeded")))
	require.Equal(t, float64(1), promtestutil.ToFloat64(registry.StageTransitions.WithLabelValues("orders", "failed")))
	require.Equal(t, float64(1), promtestutil.ToFloat64(registry.ErrorsHandled.WithLabelValues("orders", metrics.ScopeStage)))
}

func TestLogging(t *testing.T) {
	log, logs := logger.NewObserverLogger("debug")

	p, err := New(WithLogger(log), WithName("audit")).
		Then(Action(func(context.Context) error { return errors.New("unclaimed") })).
		Build()
	require.NoError(t, err)
	require.Error(t, p.Execute(context.Background()))

	finished := logs.FilterMessage("pipeline finished").All()
	require.Len(t, finished, 1)
	fields := finished[0].ContextMap()
	require.Equal(t, p.ID(), fields["pipeline_id"])
	require.Equal(t, "audit", fields["pipeline"])
	require.Equal(t, "failed", fields["outcome"])

	require.Equal(t, 1, logs.FilterMessage("pipeline error unhandled").Len())
	require.Equal(t, 1, logs.FilterMessage("stage error escaped").Len())
}
