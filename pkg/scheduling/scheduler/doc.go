// Package scheduler runs pipelines on cron schedules.
//
// A pipeline executes at most once, so a schedule is registered with a
// Factory that builds a fresh pipeline for every run:
//
//	s, err := scheduler.New(scheduler.Config{
//		Logger:            log,
//		Metrics:           metrics.DefaultRegistry,
//		MaxConcurrentRuns: 4,
//	})
//	if err != nil {
//		return err
//	}
//
//	err = s.Schedule("*/15 * * * *", "sync-inventory", func() (*pipeline.Pipeline, error) {
//		return pipeline.New(pipeline.WithName("sync-inventory")).
//			Then(pipeline.Task(fetchInventory)).
//			Then(pipeline.ThenDo(storeInventory)).
//			Build()
//	})
//
//	s.Start()
//	defer s.Stop(context.Background())
//
// # Cron Expressions
//
// Standard five-field expressions and descriptors are accepted:
//
//	"0 */2 * * *"     - Every 2 hours
//	"30 14 * * 1-5"   - 2:30 PM on weekdays
//	"@daily"          - Every day at midnight
//	"@every 90s"      - Every 90 seconds
//
// Set Config.Seconds to use six-field expressions with a leading seconds field.
//
// # Overlap and Concurrency
//
// With SkipIfStillRunning a tick is dropped while the previous run of the same
// schedule is still executing. MaxConcurrentRuns caps runs across all
// schedules; a tick that finds no free slot is skipped, or waits for one when
// WaitForSlot is set.
//
// # Shutdown
//
// Stop stops new ticks and waits for running pipelines. When the context
// passed to Stop expires first, running pipelines are cancelled; they observe
// it at their next stage boundary.
package scheduler
