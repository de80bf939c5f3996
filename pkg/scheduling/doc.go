/*
Package scheduling groups the execution primitives of taskchain:

  - pipeline: sequential asynchronous stages with hooks and exact-category
    error handlers
  - workerpool: a bounded worker pool that stage operations can run on
  - scheduler: cron-driven execution of freshly built pipelines

Pipeline:

	p, err := pipeline.New().
		Then(pipeline.Task(fetch)).
		Then(pipeline.Then(transform)).
		Build()
	if err != nil {
		return err
	}
	err = p.Execute(ctx)

Worker Pool:

	pool := workerpool.New(4, 100) // 4 workers, queue size 100
	defer func() { <-pool.Shutdown() }()

	stage := pipeline.Resolve(func(ctx context.Context) *async.Future[int] {
		return async.Submit(ctx, pool, count)
	})

Scheduler:

Pipelines execute once, so the scheduler takes a factory and builds a new
pipeline on every tick:

	s, err := scheduler.New(scheduler.Config{})
	if err != nil {
		return err
	}
	err = s.Schedule("0 9 * * MON-FRI", "report", buildReportPipeline)
	s.Start()
	defer s.Stop(ctx)

All scheduling components are safe for concurrent use and integrate with
context for cancellation.
*/
package scheduling
