package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
	"github.com/vnykmshr/taskchain/pkg/common/validation"
	"github.com/vnykmshr/taskchain/pkg/async"
	"github.com/vnykmshr/taskchain/pkg/logger"
	"github.com/vnykmshr/taskchain/pkg/metrics"
	"github.com/vnykmshr/taskchain/pkg/ratelimit/concurrency"
	"github.com/vnykmshr/taskchain/pkg/scheduling/pipeline"
)

var (
	// ErrUnknownSchedule is returned for a schedule name that is not registered.
	ErrUnknownSchedule = errors.New("scheduler: unknown schedule")

	// ErrConcurrencyLimit is returned when a run was skipped because
	// MaxConcurrentRuns runs were already executing.
	ErrConcurrencyLimit = errors.New("scheduler: concurrency limit reached")
)

// Factory builds the pipeline for one run.
type Factory func() (*pipeline.Pipeline, error)

// Config holds scheduler configuration.
type Config struct {
	// Logger receives run outcomes and cron diagnostics. Defaults to a noop logger.
	Logger logger.Logger

	// Location is the time zone schedules are evaluated in. Defaults to time.Local.
	Location *time.Location

	// Seconds enables six-field cron expressions with a leading seconds field.
	Seconds bool

	// SkipIfStillRunning drops a tick while the previous run of the same
	// schedule is still executing.
	SkipIfStillRunning bool

	// MaxConcurrentRuns caps concurrent runs across all schedules. Zero
	// means no limit.
	MaxConcurrentRuns int

	// WaitForSlot makes a run wait for a free slot instead of being skipped
	// when MaxConcurrentRuns is reached.
	WaitForSlot bool

	// Metrics counts runs by schedule and outcome. Nil disables metrics.
	Metrics *metrics.Registry

	// ExecuteOptions are passed to every pipeline execution.
	ExecuteOptions []pipeline.ExecuteOption
}

// Entry describes a registered schedule.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type schedule struct {
	id      cron.EntryID
	spec    string
	factory Factory
}

// Scheduler executes pipelines on cron schedules.
type Scheduler struct {
	config  Config
	logger  logger.Logger
	cron    *cron.Cron
	limiter concurrency.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	schedules map[string]schedule
}

// New creates a scheduler. It does not start until Start is called.
func New(config Config) (*Scheduler, error) {
	if err := validation.ValidateNonNegative("scheduler", "MaxConcurrentRuns", float64(config.MaxConcurrentRuns)); err != nil {
		return nil, err
	}

	log := config.Logger
	if log == nil {
		log = logger.NewNoopLogger()
	}
	location := config.Location
	if location == nil {
		location = time.Local
	}

	cl := cronLogger{log}
	wrappers := []cron.JobWrapper{cron.Recover(cl)}
	if config.SkipIfStillRunning {
		wrappers = append(wrappers, cron.SkipIfStillRunning(cl))
	}
	opts := []cron.Option{
		cron.WithLocation(location),
		cron.WithLogger(cl),
		cron.WithChain(wrappers...),
	}
	if config.Seconds {
		opts = append(opts, cron.WithSeconds())
	}

	var limiter concurrency.Limiter
	if config.MaxConcurrentRuns > 0 {
		l, err := concurrency.New(config.MaxConcurrentRuns)
		if err != nil {
			return nil, err
		}
		limiter = l
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:    config,
		logger:    log,
		cron:      cron.New(opts...),
		limiter:   limiter,
		ctx:       ctx,
		cancel:    cancel,
		schedules: make(map[string]schedule),
	}, nil
}

// Schedule registers factory under name to run on spec.
func (s *Scheduler) Schedule(spec, name string, factory Factory) error {
	if err := validation.ValidateNotEmpty("scheduler", "name", name); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty("scheduler", "spec", spec); err != nil {
		return err
	}
	if err := validation.ValidateNotNil("scheduler", "factory", factory); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[name]; exists {
		return tcerrors.NewValidationError("scheduler", "name", name, "already scheduled").
			WithHint("unschedule the existing entry first")
	}

	id, err := s.cron.AddFunc(spec, func() {
		_ = s.run(s.ctx, name, factory)
	})
	if err != nil {
		return tcerrors.NewOperationError("scheduler", "Schedule", err).WithContext(spec)
	}

	s.schedules[name] = schedule{id: id, spec: spec, factory: factory}
	s.logger.Info("pipeline scheduled", zap.String("schedule", name), zap.String("spec", spec))
	return nil
}

// Unschedule removes the named schedule. A run in progress is not affected.
func (s *Scheduler) Unschedule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.schedules[name]
	if !ok {
		return false
	}
	s.cron.Remove(entry.id)
	delete(s.schedules, name)
	return true
}

// RunNow builds and executes the named pipeline immediately, outside its
// schedule, and returns the execution error.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	entry, ok := s.schedules[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.run(ctx, name, entry.factory)
}

// Entries returns the registered schedules sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.schedules))
	for name, sched := range s.schedules {
		ce := s.cron.Entry(sched.id)
		entries = append(entries, Entry{
			Name: name,
			Spec: sched.spec,
			Next: ce.Next,
			Prev: ce.Prev,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing schedules and waits for running pipelines to finish.
// If ctx is done first, running pipelines are cancelled and ctx.Err() is
// returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// run builds one pipeline with factory and executes it.
func (s *Scheduler) run(ctx context.Context, name string, factory Factory) error {
	log := s.logger.With(zap.String("schedule", name))

	if s.limiter != nil {
		if s.config.WaitForSlot {
			if err := s.limiter.Wait(ctx); err != nil {
				log.Warn("scheduled run abandoned while waiting for a slot", zap.Error(err))
				s.count(name, metrics.OutcomeSkipped)
				return err
			}
		} else if !s.limiter.Acquire() {
			log.Warn("scheduled run skipped", zap.Int("max_concurrent_runs", s.config.MaxConcurrentRuns))
			s.count(name, metrics.OutcomeSkipped)
			return ErrConcurrencyLimit
		}
		defer s.limiter.Release()
	}

	var p *pipeline.Pipeline
	err := async.Recover(func() error {
		var err error
		p, err = factory()
		return err
	})
	if err == nil && p == nil {
		err = errors.New("factory returned a nil pipeline")
	}
	if err != nil {
		log.Error("pipeline factory failed", zap.Error(err))
		s.count(name, metrics.OutcomeFailed)
		return tcerrors.NewOperationError("scheduler", "Build", err).WithContext(name)
	}

	err = p.Execute(ctx, s.config.ExecuteOptions...)
	outcome := p.Outcome().String()
	if err != nil {
		outcome = metrics.OutcomeFailed
		log.Error("scheduled pipeline failed", zap.String("pipeline_id", p.ID()), zap.Error(err))
	} else {
		log.Info("scheduled pipeline finished", zap.String("pipeline_id", p.ID()), zap.String("outcome", outcome))
	}
	s.count(name, outcome)
	return err
}

func (s *Scheduler) count(name, outcome string) {
	if s.config.Metrics != nil {
		s.config.Metrics.SchedulerRuns.WithLabelValues(name, outcome).Inc()
	}
}
