// Package queue is a small storage-agnostic task queue with retries and a
// dead letter queue.
//
// Enqueuer adds tasks (or buries payloads straight into the dead letter
// queue), Worker claims due tasks and dispatches them to Handlers by name.
// A failed task is rescheduled with a backoff until MaxAttempts is reached or
// the handler returns an error wrapped with Permanent; then it is moved to the
// dead letter queue and DeadLetterHooks fire.
//
// Persistence lives behind EnqueuerRepository and WorkerRepository.
// MemoryStorage ships with the package; MongoDB and PostgreSQL backends live
// in pkg/mongo and pkg/pg.
//
//	storage := queue.NewMemoryStorage()
//	enq, _ := queue.NewEnqueuer(storage, queue.WithMaxAttempts(5))
//	w, _ := queue.NewWorker(storage, queue.WithPullInterval(time.Second))
//	w.RegisterHandlers(queue.NewTaskHandler("email.send", sendEmail))
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(w.Run(ctx))
package queue
