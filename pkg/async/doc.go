/*
Package async provides Future, the settle-once asynchronous result that a
pipeline stage awaits.

A Future is settled exactly once, with either a value or an error. It can be
produced by a goroutine (Go), by a worker pool (Submit), by hand (Promise),
or already settled (Completed, Failed, Canceled):

	f := async.Go(ctx, func(ctx context.Context) (int, error) {
		return fetchCount(ctx)
	})

	n, err := f.Wait()

Fan-in:

All waits for several futures and reports every error they settled with,
not only the first:

	both := async.All(a, b)
	values, err := both.Wait()
	for _, e := range async.Errors(err) {
		log.Println(e)
	}

Cancellation:

A future settled with ErrCanceled, context.Canceled or
context.DeadlineExceeded (or a combination made only of those) is considered
cancelled rather than failed. See IsCanceled.
*/
package async
