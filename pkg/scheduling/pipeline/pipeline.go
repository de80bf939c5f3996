package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	tccontext "github.com/vnykmshr/taskchain/pkg/common/context"
	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/async"
	"github.com/vnykmshr/taskchain/pkg/logger"
	"github.com/vnykmshr/taskchain/pkg/metrics"
)

const defaultName = "pipeline"

// Config holds pipeline configuration options.
type Config struct {
	// Name labels log entries and metrics. Defaults to "pipeline".
	Name string

	// Logger receives stage transitions and error dispatch entries.
	// Defaults to a noop logger.
	Logger logger.Logger

	// Metrics records runs, stage transitions and dispatched errors.
	// Nil disables metrics.
	Metrics *metrics.Registry

	// Timeout signals the cancellation source this long after Execute
	// starts. Zero means no timeout.
	Timeout time.Duration
}

// Option configures a pipeline Builder.
type Option func(*Config)

// WithName sets Config.Name.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithLogger sets Config.Logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets Config.Metrics.
func WithMetrics(r *metrics.Registry) Option {
	return func(c *Config) { c.Metrics = r }
}

// WithTimeout sets Config.Timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// Outcome summarises a pipeline run.
type Outcome int

const (
	// OutcomePending means the pipeline has not finished running.
	OutcomePending Outcome = iota
	// OutcomeSucceeded means every stage succeeded.
	OutcomeSucceeded
	// OutcomeCancelled means the run stopped at a cancelled stage.
	OutcomeCancelled
	// OutcomeFailed means the run stopped at a failed stage or on an error
	// that escaped a stage.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return metrics.OutcomeSucceeded
	case OutcomeCancelled:
		return metrics.OutcomeCancelled
	case OutcomeFailed:
		return metrics.OutcomeFailed
	default:
		return "pending"
	}
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeSettings)

type executeSettings struct {
	suppressErrors bool
}

// SuppressErrors makes Execute log and drop unhandled errors instead of
// returning them. Hooks still run.
func SuppressErrors() ExecuteOption {
	return func(s *executeSettings) { s.suppressErrors = true }
}

// Pipeline is an ordered sequence of stages sharing one cancellation source.
// A Pipeline is built by a Builder and executes once.
type Pipeline struct {
	id          string
	config      Config
	logger      logger.Logger
	stages      []*Stage
	source      *tccontext.Source
	shared      bool
	cancelAfter *time.Duration
	handlers    *HandlerTable
	onSuccess   Hook
	onCancelled Hook
	onCompleted Hook

	executed atomic.Bool
	mu       sync.RWMutex
	outcome  Outcome
}

// ID returns the unique identifier assigned at build time.
func (p *Pipeline) ID() string { return p.id }

// Name returns the configured name.
func (p *Pipeline) Name() string { return p.config.Name }

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Stage returns the stage at index i, or nil when out of range.
func (p *Pipeline) Stage(i int) *Stage {
	if i < 0 || i >= len(p.stages) {
		return nil
	}
	return p.stages[i]
}

// Stages returns the stages in execution order.
func (p *Pipeline) Stages() []*Stage {
	stages := make([]*Stage, len(p.stages))
	copy(stages, p.stages)
	return stages
}

// Handlers returns the global handler table. It is frozen.
func (p *Pipeline) Handlers() *HandlerTable { return p.handlers }

// Source returns the shared cancellation source.
func (p *Pipeline) Source() *tccontext.Source { return p.source }

// Cancel signals the shared cancellation source. Stages that have not
// started are skipped; a stage already awaiting its operation finishes.
func (p *Pipeline) Cancel() { p.source.Cancel() }

// CancelAfter signals the shared cancellation source after d.
func (p *Pipeline) CancelAfter(d time.Duration) { p.source.CancelAfter(d) }

// Executed reports whether Execute has been called.
func (p *Pipeline) Executed() bool { return p.executed.Load() }

// Outcome returns the result of the run, or OutcomePending.
func (p *Pipeline) Outcome() Outcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.outcome
}

// Output returns the value produced by the last stage of p.
func Output[T any](p *Pipeline) (T, bool) {
	if p == nil || len(p.stages) == 0 {
		var zero T
		return zero, false
	}
	return ValueOf[T](p.stages[len(p.stages)-1])
}

// Execute runs the stages in order, feeding each stage the value of the one
// before it, and stops at the first stage that is cancelled, fails, or lets
// an error escape. Exactly one of the global on-success and on-cancelled
// hooks runs; on-completed always runs last.
//
// Escaped errors are matched by exact category against the global handler
// table. The ones nothing claims are returned joined, unless SuppressErrors
// was passed. A run that stops on cancellation alone returns nil; see
// Outcome.
//
// Cancelling ctx has the same effect as signalling the pipeline's source.
func (p *Pipeline) Execute(ctx context.Context, opts ...ExecuteOption) (err error) {
	if !p.executed.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline %s: %w", p.id, tcerrors.ErrAlreadyExecuted)
	}

	var settings executeSettings
	for _, opt := range opts {
		opt(&settings)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	source := p.runSource()
	runCtx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(source.Context(), func() {
		cancel(source.Err())
	})
	hookCtx := context.WithoutCancel(runCtx)
	armed := p.armDeadline(source)

	rt := &run{
		source:   source,
		pipeline: p.config.Name,
		logger:   p.logger,
		metrics:  p.config.Metrics,
	}
	start := time.Now()
	outcome := OutcomeSucceeded
	p.logger.Debug("pipeline started", zap.Int("stages", len(p.stages)))

	defer func() {
		if herr := runHook(hookCtx, p.onCompleted); herr != nil {
			p.logger.Warn("pipeline on-completed hook failed", zap.Error(herr))
			err = errors.Join(err, herr)
		}

		stop()
		cancel(nil)
		if armed {
			source.Close()
		}
		if source != p.source {
			source.Cancel()
		}

		p.mu.Lock()
		p.outcome = outcome
		p.mu.Unlock()

		elapsed := time.Since(start)
		rt.observeRun(outcome, elapsed)
		p.logger.Info("pipeline finished",
			zap.Stringer("outcome", outcome),
			zap.Duration("duration", elapsed),
		)
	}()

	var (
		escaped []error
		input   any
		halted  bool
	)
	for _, s := range p.stages {
		stageEscaped := s.execute(runCtx, hookCtx, input, rt)
		escaped = append(escaped, stageEscaped...)

		state := s.State()
		if state == Succeeded && len(stageEscaped) == 0 {
			input, _ = s.Value()
			continue
		}

		halted = true
		outcome = OutcomeFailed
		if state == Cancelled {
			outcome = OutcomeCancelled
		}
		p.logger.Debug("pipeline halted",
			zap.Int("stage", s.index),
			zap.Stringer("state", state),
			zap.Int("skipped", len(p.stages)-s.index-1),
		)
		break
	}

	hook, event := p.onSuccess, "on-success"
	if halted {
		hook, event = p.onCancelled, "on-cancelled"
	}
	if herr := runHook(hookCtx, hook); herr != nil {
		p.logger.Warn("pipeline "+event+" hook failed", zap.Error(herr))
		escaped = append(escaped, herr)
	}

	unhandled := p.dispatch(hookCtx, escaped, rt)
	if len(unhandled) == 0 {
		return nil
	}
	if settings.suppressErrors {
		p.logger.Warn("unhandled pipeline errors suppressed", zap.Errors("errors", unhandled))
		return nil
	}
	return errors.Join(unhandled...)
}

// runSource returns the source the run observes. A deadline on a source
// shared through WithCancellation is armed on a child of it, so the
// caller's own schedule on the shared source is left alone.
func (p *Pipeline) runSource() *tccontext.Source {
	if p.shared && (p.cancelAfter != nil || p.config.Timeout > 0) {
		return tccontext.NewSourceWithParent(p.source.Context())
	}
	return p.source
}

// armDeadline schedules the configured deadline on source. It reports
// whether a timer was armed.
func (p *Pipeline) armDeadline(source *tccontext.Source) bool {
	switch {
	case p.cancelAfter != nil:
		source.CancelAfter(*p.cancelAfter)
		return *p.cancelAfter > 0
	case p.config.Timeout > 0:
		source.CancelAfter(p.config.Timeout)
		return true
	default:
		return false
	}
}

// dispatch matches escaped errors against the global table and returns the
// constituents nothing claimed.
func (p *Pipeline) dispatch(ctx context.Context, escaped []error, rt *run) []error {
	var errs []error
	for _, err := range escaped {
		errs = append(errs, async.Errors(err)...)
	}
	if len(errs) == 0 {
		return nil
	}

	res := p.handlers.dispatch(ctx, errs)
	for _, handled := range res.handled {
		p.logger.Info("pipeline error handled", zap.String("category", categoryName(handled)), zap.Error(handled))
	}
	rt.countHandled(metrics.ScopePipeline, len(res.handled))

	for _, unhandled := range res.unhandled {
		p.logger.Error("pipeline error unhandled", zap.String("category", categoryName(unhandled)), zap.Error(unhandled))
	}
	rt.countUnhandled(len(res.unhandled))

	return res.unhandled
}

// run carries the per-execution instrumentation shared by the stages.
type run struct {
	source   *tccontext.Source
	pipeline string
	logger   logger.Logger
	metrics  *metrics.Registry
}

// cancelled is the per-stage checkpoint. The source is consulted directly
// because its propagation into ctx happens on another goroutine.
func (r *run) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || r.source.IsCancellationRequested()
}

func (r *run) observeStage(log logger.Logger, state State) {
	log.Debug("stage transitioned", zap.Stringer("state", state))
	if r.metrics != nil {
		r.metrics.StageTransitions.WithLabelValues(r.pipeline, state.String()).Inc()
	}
}

func (r *run) observeDuration(d time.Duration) {
	if r.metrics != nil {
		r.metrics.StageDuration.WithLabelValues(r.pipeline).Observe(d.Seconds())
	}
}

func (r *run) countHandled(scope string, n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.ErrorsHandled.WithLabelValues(r.pipeline, scope).Add(float64(n))
	}
}

func (r *run) countUnhandled(n int) {
	if r.metrics != nil && n > 0 {
		r.metrics.ErrorsUnhandled.WithLabelValues(r.pipeline).Add(float64(n))
	}
}

func (r *run) observeRun(outcome Outcome, d time.Duration) {
	if r.metrics == nil {
		return
	}
	r.metrics.PipelineRuns.WithLabelValues(r.pipeline, outcome.String()).Inc()
	r.metrics.PipelineDuration.WithLabelValues(r.pipeline).Observe(d.Seconds())
}
