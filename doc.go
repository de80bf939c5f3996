/*
Package taskchain runs sequential asynchronous pipelines: ordered stages
whose values flow from one to the next, with lifecycle hooks and
exact-category error handlers at stage and pipeline level.

Pipelines (pkg/scheduling/pipeline):
  - Builder: immutable, type-checked assembly of stages and hooks
  - Pipeline: fail-fast sequential execution under one cancellation source

Asynchronous operations (pkg/async):
  - Future, Promise: settle-once results
  - All: fan-in that keeps every error

Execution (pkg/scheduling):
  - workerpool: bounded pool stage operations can run on
  - scheduler: cron schedules that build a fresh pipeline per run

Support:
  - pkg/common: errors, validation, cancellation source
  - pkg/logger: zap-backed structured logging
  - pkg/metrics: Prometheus instrumentation
  - pkg/ratelimit/concurrency: limit on concurrent runs

Example usage:

	import (
		"github.com/vnykmshr/taskchain/pkg/scheduling/pipeline"
	)

	p, err := pipeline.New().
		Then(pipeline.Task(loadOrder)).
		Then(pipeline.Then(priceOrder)).
		Build()
	if err != nil {
		return err
	}
	return p.Execute(ctx)
*/
package taskchain
