/*
Package concurrency provides a permit-based limiter that caps how many
operations run at the same time.

The scheduler uses it to bound concurrent pipeline runs across all
schedules:

	limiter, err := concurrency.New(2)
	if err != nil {
		return err
	}

	if !limiter.Acquire() {
		return ErrBusy // skip this run
	}
	defer limiter.Release()

Wait blocks until a permit is free or the context is done:

	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	defer limiter.Release()

Waiters are served in arrival order.
*/
package concurrency
