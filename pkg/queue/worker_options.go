package queue

import (
	"log/slog"
	"time"
)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueues sets which queues the worker pulls from.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

// WithPullInterval sets how often the worker checks for due tasks.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pullInterval = d
		}
	}
}

// WithLockTimeout sets how long a claimed task stays locked. It also bounds handler runtime.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockTimeout = d
		}
	}
}

// WithMaxConcurrentTasks sets the maximum number of tasks processed at once.
func WithMaxConcurrentTasks(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxTasks = n
		}
	}
}

// WithBackoff sets the retry delay as a function of the failed attempt number.
func WithBackoff(fn func(attempt int) time.Duration) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.backoff = fn
		}
	}
}

// WithDeadLetterHook registers hooks fired after a task is dead-lettered.
func WithDeadLetterHook(hooks ...DeadLetterHook) WorkerOption {
	return func(w *Worker) {
		for _, h := range hooks {
			if h != nil {
				w.hooks = append(w.hooks, h)
			}
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
