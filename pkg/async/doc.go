// Package async runs background jobs with a timeout and panic recovery.
//
// Run executes on the calling goroutine and is what the sweeper's cron jobs
// use, so a panicking sweep is logged instead of taking down the process:
//
//	err := async.Run(ctx, logger, 10*time.Minute, "renew due", func(ctx context.Context) error {
//		_, err := manager.RenewDue(ctx)
//		return err
//	})
//
// SafeGo is the same on a new goroutine and reports the result on a channel.
package async
