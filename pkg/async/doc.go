// Package async provides safe concurrent execution primitives for background
// work: SafeGo for fire-and-forget tasks and a bounded WorkerPool that backs
// the job executor when the Redis queue is unavailable.
//
//	pool := async.NewWorkerPool(ctx, 2, 64, 10*time.Minute, logger)
//	defer pool.Shutdown(30 * time.Second)
//
//	pool.Submit(ctx, "regenerate_daily", func(ctx context.Context) error {
//		return exporter.RegenerateDaily(ctx, date)
//	})
package async
