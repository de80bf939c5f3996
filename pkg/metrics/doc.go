// Package metrics provides Prometheus instrumentation for taskchain components.
//
// # Quick Start
//
// Attach a registry when assembling a pipeline:
//
//	reg := metrics.NewRegistry(prometheus.NewRegistry())
//
//	p, err := pipeline.New(pipeline.WithMetrics(reg)).
//		Then(pipeline.Task(fetch)).
//		Build()
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//
// # Available Metrics
//
//   - taskchain_pipeline_runs_total{pipeline,outcome}
//   - taskchain_pipeline_run_duration_seconds{pipeline}
//   - taskchain_stage_transitions_total{pipeline,state}
//   - taskchain_stage_duration_seconds{pipeline}
//   - taskchain_errors_handled_total{pipeline,scope}
//   - taskchain_errors_unhandled_total{pipeline}
//   - taskchain_workerpool_size{pool_name}
//   - taskchain_workerpool_active_workers{pool_name}
//   - taskchain_workerpool_queued_tasks{pool_name}
//   - taskchain_scheduler_runs_total{schedule,outcome}
//
// outcome is one of succeeded, cancelled, failed. scope is stage or pipeline.
//
// # Configuration
//
//	config := metrics.Config{
//		Enabled:   true,
//		Registry:  prometheus.NewRegistry(),
//		Namespace: "myapp",                            // Override default "taskchain"
//		Labels:    prometheus.Labels{"version": "1.0"},
//	}
//	reg := config.Build()
package metrics
