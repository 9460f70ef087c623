package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enqueuer adds tasks and dead letters to storage.
type Enqueuer struct {
	repo        EnqueuerRepository
	queue       string
	maxAttempts int
	hooks       []DeadLetterHook
	now         func() time.Time
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*Enqueuer)

// WithDefaultQueue sets the queue tasks are added to.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(e *Enqueuer) {
		if queue != "" {
			e.queue = queue
		}
	}
}

// WithMaxAttempts caps how often a task runs before it is dead-lettered.
func WithMaxAttempts(n int) EnqueuerOption {
	return func(e *Enqueuer) {
		if n > 0 && n <= 20 {
			e.maxAttempts = n
		}
	}
}

// WithEnqueuerDeadLetterHook registers hooks fired after Bury stores a dead letter.
func WithEnqueuerDeadLetterHook(hooks ...DeadLetterHook) EnqueuerOption {
	return func(e *Enqueuer) {
		for _, h := range hooks {
			if h != nil {
				e.hooks = append(e.hooks, h)
			}
		}
	}
}

// NewEnqueuer creates a new Enqueuer.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	e := &Enqueuer{
		repo:        repo,
		queue:       DefaultQueueName,
		maxAttempts: 5,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Enqueue stores a task that becomes due after delay.
func (e *Enqueuer) Enqueue(ctx context.Context, name string, payload any, delay time.Duration) (*Task, error) {
	data, err := encode(name, payload)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Queue:       e.queue,
		Name:        name,
		Payload:     data,
		Status:      TaskStatusPending,
		MaxAttempts: e.maxAttempts,
		ScheduledAt: now.Add(max(delay, 0)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task %q in queue %q: %w", name, e.queue, err)
	}
	return task, nil
}

// Bury stores payload directly as a dead letter, for work that is known to be
// unprocessable but must not be lost.
func (e *Enqueuer) Bury(ctx context.Context, name string, payload any, reason string) (*DeadLetter, error) {
	data, err := encode(name, payload)
	if err != nil {
		return nil, err
	}

	dl := &DeadLetter{
		ID:       uuid.New(),
		TaskID:   uuid.New(),
		Queue:    e.queue,
		Name:     name,
		Payload:  data,
		Error:    reason,
		FailedAt: e.now().UTC(),
	}
	if err := e.repo.CreateDeadLetter(ctx, dl); err != nil {
		return nil, fmt.Errorf("failed to store dead letter %q: %w", name, err)
	}
	for _, h := range e.hooks {
		h(ctx, *dl)
	}
	return dl, nil
}

func encode(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrTaskNameEmpty
	}
	if payload == nil {
		return nil, ErrPayloadNil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}
	return data, nil
}
