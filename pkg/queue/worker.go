package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Worker claims due tasks and dispatches them to registered handlers.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	maxTasks int
	wg       sync.WaitGroup
	mu       sync.Mutex
	stopMu   sync.Mutex

	pullInterval time.Duration
	lockTimeout  time.Duration
	backoff      func(attempt int) time.Duration
	hooks        []DeadLetterHook
	logger       *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a worker over repo.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	w := &Worker{
		repo:         repo,
		handlers:     make(map[string]Handler),
		queues:       []string{DefaultQueueName},
		workerID:     uuid.New(),
		pullInterval: 5 * time.Second,
		lockTimeout:  5 * time.Minute,
		backoff:      LinearBackoff(30 * time.Second),
		logger:       slog.Default(),
		maxTasks:     1,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.sem = make(chan struct{}, w.maxTasks)
	return w, nil
}

// RegisterHandlers registers task handlers by name. A later handler replaces
// an earlier one with the same name.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start begins processing tasks in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)
	go w.run()

	w.logger.Info("worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))
	return nil
}

// Stop cancels polling and waits for in-flight tasks.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return errors.New("worker not started")
	}
	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()

	w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
	return nil
}

// Run returns a function suitable for errgroup that runs the worker until ctx is done.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return w.Stop()
	}
}

func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()

					if err := w.pullAndProcess(); err != nil {
						w.logger.Error("failed to process task",
							slog.String("worker_id", w.workerID.String()),
							slog.String("error", err.Error()))
					}
				}()
			default:
				w.logger.Debug("all worker slots busy, skipping tick",
					slog.String("worker_id", w.workerID.String()))
			}
		}
	}
}

func (w *Worker) pullAndProcess() error {
	task, err := w.repo.ClaimTask(w.ctx, w.workerID, w.queues, w.lockTimeout)
	if errors.Is(err, ErrNoTaskToClaim) || (err == nil && task == nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim task: %w", err)
	}
	return w.Process(task)
}

// Process runs a single claimed task and records its result.
func (w *Worker) Process(task *Task) error {
	start := time.Now()

	w.mu.Lock()
	handler, ok := w.handlers[task.Name]
	w.mu.Unlock()
	if !ok {
		return w.bury(task, fmt.Errorf("%w: %s", ErrHandlerMissing, task.Name))
	}

	ctx, cancel := context.WithTimeout(w.baseContext(), w.lockTimeout)
	defer cancel()

	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in handler: %v", r)
			}
		}()
		execErr = handler.Handle(ctx, task.Payload)
	}()
	duration := time.Since(start)

	if execErr == nil {
		if err := w.repo.CompleteTask(w.baseContext(), task.ID); err != nil {
			return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
		}
		w.logger.Info("task completed",
			slog.String("task_id", task.ID.String()),
			slog.String("task_name", task.Name),
			slog.Int("attempt", task.Attempts+1),
			slog.Duration("duration", duration))
		return nil
	}

	w.logger.Error("task failed",
		slog.String("worker_id", w.workerID.String()),
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.Name),
		slog.Int("attempt", task.Attempts+1),
		slog.Int("max_attempts", task.MaxAttempts),
		slog.Duration("duration", duration),
		slog.String("error", execErr.Error()))

	if errors.Is(execErr, ErrPermanent) || task.Attempts+1 >= task.MaxAttempts {
		return w.bury(task, execErr)
	}

	retryAt := time.Now().Add(w.backoff(task.Attempts + 1))
	if err := w.repo.FailTask(w.baseContext(), task.ID, execErr.Error(), retryAt); err != nil {
		return fmt.Errorf("failed to reschedule task %s: %w", task.ID, err)
	}
	return nil
}

func (w *Worker) bury(task *Task, cause error) error {
	ctx := w.baseContext()
	dl, err := w.repo.MoveToDLQ(ctx, task.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}

	w.logger.Warn("task moved to dead letter queue",
		slog.String("task_id", task.ID.String()),
		slog.String("task_name", task.Name),
		slog.String("error", cause.Error()))

	for _, h := range w.hooks {
		h(ctx, *dl)
	}
	return nil
}

func (w *Worker) baseContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	// in-flight bookkeeping must finish even while the worker stops
	return context.WithoutCancel(w.ctx)
}

// LinearBackoff delays retry n by n*step.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}
