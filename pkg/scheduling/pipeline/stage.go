package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnykmshr/taskchain/pkg/async"
	"github.com/vnykmshr/taskchain/pkg/metrics"
)

// Hook is a lifecycle callback. It may block; the pipeline waits for it
// before moving on.
type Hook func(ctx context.Context) error

// SuccessHook is an on-success callback that receives the produced value.
// Build one with WithValue.
type SuccessHook struct {
	in reflect.Type
	fn func(ctx context.Context, value any) error
}

// WithValue adapts fn into a SuccessHook. The stage's output type must be
// assignable to T.
func WithValue[T any](fn func(context.Context, T) error) SuccessHook {
	if fn == nil {
		return SuccessHook{in: typeOf[T]()}
	}
	return SuccessHook{
		in: typeOf[T](),
		fn: func(ctx context.Context, value any) error {
			v := coerce[T](value)
			return fn(ctx, v)
		},
	}
}

func (h Hook) asSuccess() SuccessHook {
	return SuccessHook{fn: func(ctx context.Context, _ any) error { return h(ctx) }}
}

// Stage is one unit of pipeline work. Stages are created by Build and are
// read-only to callers.
type Stage struct {
	index       int
	name        string
	resolver    Resolver
	handlers    *HandlerTable
	onSuccess   SuccessHook
	onCancelled Hook
	onCompleted Hook

	mu        sync.RWMutex
	state     State
	completed bool
	value     any
	err       error
	duration  time.Duration
}

// Index returns the stage's position in the pipeline.
func (s *Stage) Index() int { return s.index }

// Name returns the stage name, or "stage-<index>" when none was set.
func (s *Stage) Name() string {
	if s.name == "" {
		return fmt.Sprintf("stage-%d", s.index)
	}
	return s.name
}

// Resolver returns the stage's resolver.
func (s *Stage) Resolver() Resolver { return s.resolver }

// Handlers returns the stage-local handler table. It is frozen.
func (s *Stage) Handlers() *HandlerTable { return s.handlers }

// State returns the current lifecycle state.
func (s *Stage) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Completed reports whether the stage has finished all of its work,
// including its on-completed hook.
func (s *Stage) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completed
}

// Value returns the produced value. ok is false unless the stage succeeded
// and produces a value.
func (s *Stage) Value() (value any, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Succeeded || s.resolver.out == nil {
		return nil, false
	}
	return s.value, true
}

// Err returns the error the stage's operation settled with, if any.
func (s *Stage) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Duration returns how long the stage waited for its operation.
func (s *Stage) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duration
}

// ValueOf returns the typed value produced by s.
func ValueOf[T any](s *Stage) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.Value()
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (s *Stage) transition(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// execute drives the stage through its state machine and returns the errors
// that escape it: unclaimed operation errors and hook errors.
func (s *Stage) execute(ctx, hookCtx context.Context, input any, rt *run) (escaped []error) {
	log := rt.logger.With(zap.Int("stage", s.index), zap.String("stage_name", s.Name()))

	defer func() {
		s.mu.Lock()
		s.completed = true
		s.mu.Unlock()

		if err := runHook(hookCtx, s.onCompleted); err != nil {
			log.Warn("stage on-completed hook failed", zap.Error(err))
			escaped = append(escaped, err)
		}
	}()

	if rt.cancelled(ctx) {
		s.transition(Cancelled)
		rt.observeStage(log, Cancelled)
		if err := runHook(hookCtx, s.onCancelled); err != nil {
			log.Warn("stage on-cancelled hook failed", zap.Error(err))
			escaped = append(escaped, err)
		}
		return escaped
	}

	s.transition(Started)
	log.Debug("stage started")

	start := time.Now()
	value, err := s.await(ctx, input)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.duration = elapsed
	s.err = err
	if err == nil && s.resolver.out != nil {
		s.value = value
	}
	s.mu.Unlock()
	rt.observeDuration(elapsed)

	switch {
	case err == nil:
		s.transition(Succeeded)
		rt.observeStage(log, Succeeded)
		if s.onSuccess.fn != nil {
			if herr := async.Recover(func() error { return s.onSuccess.fn(hookCtx, value) }); herr != nil {
				log.Warn("stage on-success hook failed", zap.Error(herr))
				escaped = append(escaped, herr)
			}
		}

	case async.IsCanceled(err):
		s.transition(Cancelled)
		rt.observeStage(log, Cancelled)
		if herr := runHook(hookCtx, s.onCancelled); herr != nil {
			log.Warn("stage on-cancelled hook failed", zap.Error(herr))
			escaped = append(escaped, herr)
		}

	default:
		s.transition(Failed)
		rt.observeStage(log, Failed)
		res := s.handlers.dispatch(hookCtx, async.Errors(err))
		for _, handled := range res.handled {
			log.Info("stage error handled", zap.String("category", categoryName(handled)), zap.Error(handled))
		}
		rt.countHandled(metrics.ScopeStage, len(res.handled))
		for _, unhandled := range res.unhandled {
			log.Warn("stage error escaped", zap.String("category", categoryName(unhandled)), zap.Error(unhandled))
		}
		escaped = append(escaped, res.unhandled...)
	}

	return escaped
}

// await invokes the resolver and suspends until its operation settles.
// A panic while resolving is a settlement with error.
func (s *Stage) await(ctx context.Context, input any) (any, error) {
	var op async.Awaitable
	if err := async.Recover(func() error {
		op = s.resolver.resolve(ctx, input)
		return nil
	}); err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrNilOperation
	}
	<-op.Done()
	return op.Outcome()
}

func runHook(ctx context.Context, h Hook) error {
	if h == nil {
		return nil
	}
	return async.Recover(func() error { return h(ctx) })
}

func recoverHandler(ctx context.Context, h Handler, err error) error {
	return async.Recover(func() error {
		h.handle(ctx, err)
		return nil
	})
}

func categoryName(err error) string {
	return reflect.TypeOf(err).String()
}
