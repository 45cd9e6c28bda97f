// Package async provides a small worker pool for background tasks.
//
// The pool runs submitted tasks on a fixed number of workers with a
// per-task timeout and panic recovery. Shutdown drains queued tasks
// before returning.
//
//	pool := async.NewWorkerPool(ctx, 2, "login audit", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return store.RecordLoginAudit(ctx, entry)
//	})
//
// Task errors surface on the Errors channel. Callers that do not drain
// it still work, overflow errors are logged and dropped.
//
// # Related Packages
//
//   - pkg/auth: uses WorkerPool for asynchronous login audit writes
package async
