package pipeline

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	tccontext "github.com/vnykmshr/taskchain/pkg/common/context"
	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/common/validation"
	"github.com/vnykmshr/taskchain/pkg/logger"
)

const globalScope = "pipeline"

// stageSpec is the configuration of one stage before it is built.
type stageSpec struct {
	name        string
	resolver    Resolver
	handlers    []Handler
	onSuccess   SuccessHook
	onCancelled Hook
	onCompleted Hook
}

// Builder assembles a Pipeline.
//
// Builders are values. Every method returns a new Builder and leaves its
// receiver unchanged, so two chains grown from a shared prefix never see
// each other's configuration.
//
// The first configuration error is kept: Err reports it immediately, later
// calls do nothing, and Build returns it.
type Builder struct {
	config      Config
	stages      []stageSpec
	handlers    []Handler
	onSuccess   Hook
	onCancelled Hook
	onCompleted Hook
	source      *tccontext.Source
	cancelAfter *time.Duration
	err         error
}

// New starts an empty pipeline.
func New(opts ...Option) Builder {
	var config Config
	for _, opt := range opts {
		opt(&config)
	}
	return NewWithConfig(config)
}

// NewWithConfig starts an empty pipeline with the specified configuration.
func NewWithConfig(config Config) Builder {
	b := Builder{config: config}
	if err := validation.ValidateNonNegativeDuration(globalScope, "Timeout", config.Timeout); err != nil {
		b.err = err
	}
	return b
}

// Err returns the first configuration error, if any.
func (b Builder) Err() error { return b.err }

func (b Builder) with(fn func(*Builder) error) Builder {
	if b.err != nil {
		return b
	}
	next := b
	if err := fn(&next); err != nil {
		b.err = err
		return b
	}
	return next
}

// OnSuccess sets the hook that runs when every stage succeeded.
func (b Builder) OnSuccess(h Hook) Builder {
	return b.with(func(nb *Builder) error {
		if err := validateHook("OnSuccess", h); err != nil {
			return err
		}
		nb.onSuccess = h
		return nil
	})
}

// OnCancelled sets the hook that runs when the pipeline stopped at a
// cancelled or failed stage.
func (b Builder) OnCancelled(h Hook) Builder {
	return b.with(func(nb *Builder) error {
		if err := validateHook("OnCancelled", h); err != nil {
			return err
		}
		nb.onCancelled = h
		return nil
	})
}

// OnCompleted sets the hook that runs once at the end of every execution.
func (b Builder) OnCompleted(h Hook) Builder {
	return b.with(func(nb *Builder) error {
		if err := validateHook("OnCompleted", h); err != nil {
			return err
		}
		nb.onCompleted = h
		return nil
	})
}

// CatchGlobal registers a handler for errors that escaped every stage.
func (b Builder) CatchGlobal(h Handler) Builder {
	return b.with(func(nb *Builder) error {
		handlers, err := addHandler(globalScope, b.handlers, h)
		if err != nil {
			return err
		}
		nb.handlers = handlers
		return nil
	})
}

// WithCancellation sets or replaces the shared cancellation source. A
// CancelAfter or Timeout deadline applies to this pipeline's run only and
// never signals source itself.
func (b Builder) WithCancellation(source *tccontext.Source) Builder {
	return b.with(func(nb *Builder) error {
		if source == nil {
			return tcerrors.NewValidationError(globalScope, "source", nil, "cannot be nil")
		}
		nb.source = source
		return nil
	})
}

// CancelAfter signals the cancellation source d after Execute starts.
// A d of zero or less cancels the run before its first stage.
func (b Builder) CancelAfter(d time.Duration) Builder {
	return b.with(func(nb *Builder) error {
		nb.cancelAfter = &d
		return nil
	})
}

// Then opens a new stage running r. If r is dependent, the last stage must
// produce a value assignable to r's input.
func (b Builder) Then(r Resolver) StageBuilder {
	var previous *stageSpec
	if n := len(b.stages); n > 0 {
		previous = &b.stages[n-1]
	}
	return openStage(b, previous, r)
}

// Build creates the Pipeline. The handler tables are frozen.
func (b Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}

	config := b.config
	if config.Name == "" {
		config.Name = defaultName
	}
	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}

	id := uuid.NewString()
	source := b.source
	if source == nil {
		source = tccontext.NewSource()
	}

	global, err := buildTable(globalScope, b.handlers)
	if err != nil {
		return nil, err
	}

	stages := make([]*Stage, len(b.stages))
	for i, spec := range b.stages {
		table, err := buildTable(stageScope(i), spec.handlers)
		if err != nil {
			return nil, err
		}
		stages[i] = &Stage{
			index:       i,
			name:        spec.name,
			resolver:    spec.resolver,
			handlers:    table,
			onSuccess:   spec.onSuccess,
			onCancelled: spec.onCancelled,
			onCompleted: spec.onCompleted,
		}
	}

	return &Pipeline{
		id:          id,
		config:      config,
		logger:      log.With(zap.String("pipeline_id", id), zap.String("pipeline", config.Name)),
		stages:      stages,
		source:      source,
		shared:      b.source != nil,
		cancelAfter: b.cancelAfter,
		handlers:    global,
		onSuccess:   b.onSuccess,
		onCancelled: b.onCancelled,
		onCompleted: b.onCompleted,
	}, nil
}

// StageBuilder is a Builder with an open stage. Stage-level calls attach to
// the open stage; Then opens the next one and Done returns to the pipeline.
type StageBuilder struct {
	b    Builder
	open stageSpec
}

func openStage(b Builder, previous *stageSpec, r Resolver) StageBuilder {
	sb := StageBuilder{b: b}
	if b.err != nil {
		return sb
	}
	if err := dependentOn(len(b.stages), previous, r); err != nil {
		sb.b.err = err
		return sb
	}
	sb.open = stageSpec{resolver: r}
	return sb
}

// dependentOn checks that a dependent resolver can consume the value of
// the stage before it.
func dependentOn(index int, previous *stageSpec, r Resolver) error {
	if r.IsZero() {
		return tcerrors.NewValidationError(stageScope(index), "resolver", nil, "cannot be nil")
	}
	if !r.Dependent() {
		return nil
	}
	actual := previousOutput(previous)
	if actual == nil || !actual.AssignableTo(r.in) {
		return &tcerrors.TypeMismatchError{Stage: index, Expected: r.in, Actual: actual}
	}
	return nil
}

func previousOutput(previous *stageSpec) reflect.Type {
	if previous == nil {
		return nil
	}
	return previous.resolver.out
}

// Err returns the first configuration error, if any.
func (sb StageBuilder) Err() error { return sb.b.err }

func (sb StageBuilder) index() int { return len(sb.b.stages) }

func (sb StageBuilder) with(fn func(*stageSpec) error) StageBuilder {
	if sb.b.err != nil {
		return sb
	}
	next := sb
	if err := fn(&next.open); err != nil {
		sb.b.err = err
		return sb
	}
	return next
}

// Named names the open stage in log entries.
func (sb StageBuilder) Named(name string) StageBuilder {
	return sb.with(func(spec *stageSpec) error {
		spec.name = name
		return nil
	})
}

// OnSuccess sets the hook that runs after the open stage succeeds. An error
// it returns is not matched against the stage's handlers; it escapes to
// the pipeline.
func (sb StageBuilder) OnSuccess(h Hook) StageBuilder {
	return sb.with(func(spec *stageSpec) error {
		if err := validateHook("OnSuccess", h); err != nil {
			return err
		}
		spec.onSuccess = h.asSuccess()
		return nil
	})
}

// OnValue is OnSuccess for a hook that consumes the produced value.
func (sb StageBuilder) OnValue(h SuccessHook) StageBuilder {
	index := sb.index()
	return sb.with(func(spec *stageSpec) error {
		if h.fn == nil {
			return tcerrors.NewValidationError(stageScope(index), "OnValue", nil, "cannot be nil")
		}
		out := spec.resolver.out
		if out == nil || !out.AssignableTo(h.in) {
			return &tcerrors.TypeMismatchError{Stage: index, Expected: h.in, Actual: out}
		}
		spec.onSuccess = h
		return nil
	})
}

// OnCancelled sets the hook that runs when the open stage is cancelled.
func (sb StageBuilder) OnCancelled(h Hook) StageBuilder {
	return sb.with(func(spec *stageSpec) error {
		if err := validateHook("OnCancelled", h); err != nil {
			return err
		}
		spec.onCancelled = h
		return nil
	})
}

// OnCompleted sets the hook that runs once the open stage has finished,
// whatever its outcome.
func (sb StageBuilder) OnCompleted(h Hook) StageBuilder {
	return sb.with(func(spec *stageSpec) error {
		if err := validateHook("OnCompleted", h); err != nil {
			return err
		}
		spec.onCompleted = h
		return nil
	})
}

// Catch registers a handler on the open stage's table.
func (sb StageBuilder) Catch(h Handler) StageBuilder {
	scope := stageScope(sb.index())
	return sb.with(func(spec *stageSpec) error {
		handlers, err := addHandler(scope, spec.handlers, h)
		if err != nil {
			return err
		}
		spec.handlers = handlers
		return nil
	})
}

// Then finalizes the open stage and opens the next one.
func (sb StageBuilder) Then(r Resolver) StageBuilder {
	if sb.b.err != nil {
		return sb
	}
	previous := sb.open
	return openStage(sb.Done(), &previous, r)
}

// Done finalizes the open stage and returns to pipeline-level configuration.
func (sb StageBuilder) Done() Builder {
	if sb.b.err != nil {
		return sb.b
	}
	b := sb.b
	b.stages = append(slices.Clip(b.stages), sb.open)
	return b
}

// Build finalizes the open stage and creates the Pipeline.
func (sb StageBuilder) Build() (*Pipeline, error) {
	return sb.Done().Build()
}

func validateHook(field string, h Hook) error {
	return validation.ValidateNotNil(globalScope, field, h)
}

func addHandler(scope string, handlers []Handler, h Handler) ([]Handler, error) {
	if err := h.validate(scope); err != nil {
		return nil, err
	}
	for _, existing := range handlers {
		if existing.category == h.category {
			return nil, &tcerrors.DuplicateHandlerError{Scope: scope, Category: h.category}
		}
	}
	return append(slices.Clip(handlers), h), nil
}

func buildTable(scope string, handlers []Handler) (*HandlerTable, error) {
	table := NewHandlerTable(scope)
	for _, h := range handlers {
		if err := table.Register(h); err != nil {
			return nil, err
		}
	}
	table.freeze()
	return table, nil
}

func stageScope(index int) string {
	return fmt.Sprintf("stage %d", index)
}
