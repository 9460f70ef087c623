package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is used when no queue is specified.
const DefaultQueueName = "default"

// TaskStatus represents the status of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is a unit of background work.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	Name        string     `json:"name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID `json:"locked_by,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DeadLetter is a task that will not be retried automatically.
// It stays in storage for operator inspection.
type DeadLetter struct {
	ID       uuid.UUID `json:"id"`
	TaskID   uuid.UUID `json:"task_id"`
	Queue    string    `json:"queue"`
	Name     string    `json:"name"`
	Payload  []byte    `json:"payload,omitempty"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterHook is notified after a dead letter has been stored.
type DeadLetterHook func(ctx context.Context, dl DeadLetter)

// EnqueuerRepository stores new tasks and dead letters.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	CreateDeadLetter(ctx context.Context, dl *DeadLetter) error
}

// WorkerRepository is the storage contract of the worker.
type WorkerRepository interface {
	// ClaimTask atomically locks the oldest due pending task of the given queues.
	// Returns ErrNoTaskToClaim when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)

	CompleteTask(ctx context.Context, taskID uuid.UUID) error

	// FailTask records the error, increments Attempts and reschedules the task
	// for retryAt.
	FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error

	// MoveToDLQ removes the task and stores it as a dead letter.
	MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) (*DeadLetter, error)
}

// Storage is implemented by every queue backend.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)
}
