// Package metrics provides Prometheus instrumentation for taskchain components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by pipeline and scheduler metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Scope label values for handled-error metrics.
const (
	ScopeStage    = "stage"
	ScopePipeline = "pipeline"
)

// Registry holds all metric instances for taskchain components.
type Registry struct {
	// Pipeline Metrics
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	StageTransitions *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ErrorsHandled    *prometheus.CounterVec
	ErrorsUnhandled  *prometheus.CounterVec

	// Worker Pool Metrics
	WorkerPoolSize   *prometheus.GaugeVec
	WorkerPoolActive *prometheus.GaugeVec
	WorkerPoolQueued *prometheus.GaugeVec

	// Scheduler Metrics
	SchedulerRuns *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by taskchain components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(reg, defaultNamespace, nil)
}

// NewRegistryWithConfig creates a registry honouring the namespace and
// constant labels in config.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	return newRegistry(reg, namespace, config.Labels)
}

func newRegistry(reg prometheus.Registerer, namespace string, labels prometheus.Labels) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		PipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "pipeline",
				Name:        "runs_total",
				Help:        "Total number of pipeline executions by outcome",
				ConstLabels: labels,
			},
			[]string{"pipeline", "outcome"},
		),

		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "pipeline",
				Name:        "run_duration_seconds",
				Help:        "Time spent executing a whole pipeline",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pipeline"},
		),

		StageTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "transitions_total",
				Help:        "Total number of stages reaching a terminal state",
				ConstLabels: labels,
			},
			[]string{"pipeline", "state"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "stage",
				Name:        "duration_seconds",
				Help:        "Time spent awaiting a stage's asynchronous operation",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"pipeline"},
		),

		ErrorsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "errors",
				Name:        "handled_total",
				Help:        "Total number of errors claimed by a category handler",
				ConstLabels: labels,
			},
			[]string{"pipeline", "scope"},
		),

		ErrorsUnhandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "errors",
				Name:        "unhandled_total",
				Help:        "Total number of errors surfaced to the pipeline caller",
				ConstLabels: labels,
			},
			[]string{"pipeline"},
		),

		WorkerPoolSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "workerpool",
				Name:        "size",
				Help:        "Current worker pool size",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		WorkerPoolActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "workerpool",
				Name:        "active_workers",
				Help:        "Number of active workers",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		WorkerPoolQueued: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "workerpool",
				Name:        "queued_tasks",
				Help:        "Number of queued tasks",
				ConstLabels: labels,
			},
			[]string{"pool_name"},
		),

		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "scheduler",
				Name:        "runs_total",
				Help:        "Total number of scheduled pipeline runs by outcome",
				ConstLabels: labels,
			},
			[]string{"schedule", "outcome"},
		),
	}
}
