/*
Package workerpool provides a bounded worker pool that asynchronous stage
operations can be scheduled on.

A worker pool manages a fixed number of worker goroutines that execute tasks concurrently.
It is the executor behind async.Submit: a pipeline stage that must not spawn an
unbounded goroutine per operation submits its work here instead.

Basic usage:

	pool := workerpool.New(4, 100) // 4 workers, queue size 100
	defer pool.Shutdown()

	task := workerpool.TaskFunc(func(ctx context.Context) error {
		// Do work
		return nil
	})

	if err := pool.Submit(task); err != nil {
		log.Printf("Failed to submit: %v", err)
	}

Configuration Options:

	config := workerpool.Config{
		WorkerCount: 8,
		QueueSize:   200,
		TaskTimeout: 30 * time.Second,
		PanicHandler: func(task workerpool.Task, r interface{}) {
			log.Printf("task panicked: %v", r)
		},
	}

	pool, err := workerpool.NewWithConfig(config)

Shutdown:

Shutdown stops accepting new tasks, lets workers finish everything that was
already queued, and returns a channel that is closed once every worker has exited:

	<-pool.Shutdown()

Metrics:

NewWithConfigAndMetrics wraps the pool and keeps the size, active and queued
gauges of a metrics.Registry up to date.
*/
package workerpool
