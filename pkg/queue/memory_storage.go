package queue

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Storage for tests and local development.
// Nothing survives a restart.
type MemoryStorage struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	dlq   []DeadLetter
	now   func() time.Time
}

// NewMemoryStorage creates an empty in-memory queue storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[uuid.UUID]*Task),
		now:   time.Now,
	}
}

func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return ErrTaskExists
	}
	cp := *task
	ms.tasks[task.ID] = &cp
	return nil
}

func (ms *MemoryStorage) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	if dl == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.dlq = append(ms.dlq, *dl)
	return nil
}

// ClaimTask picks the due pending task with the earliest schedule. Tasks whose
// lock expired are claimable again, which recovers work from crashed workers.
func (ms *MemoryStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	var best *Task
	for _, t := range ms.tasks {
		if !slices.Contains(queues, t.Queue) || t.ScheduledAt.After(now) {
			continue
		}
		claimable := t.Status == TaskStatusPending ||
			(t.Status == TaskStatusProcessing && t.LockedUntil != nil && t.LockedUntil.Before(now))
		if !claimable {
			continue
		}
		if best == nil || t.ScheduledAt.Before(best.ScheduledAt) {
			best = t
		}
	}
	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, err := ms.locked(taskID)
	if err != nil {
		return err
	}
	t.Status = TaskStatusCompleted
	t.Attempts++
	t.LockedUntil = nil
	t.LockedBy = nil
	t.UpdatedAt = ms.now()
	return nil
}

func (ms *MemoryStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, err := ms.locked(taskID)
	if err != nil {
		return err
	}
	t.Status = TaskStatusPending
	t.Attempts++
	t.LastError = errMsg
	t.ScheduledAt = retryAt
	t.LockedUntil = nil
	t.LockedBy = nil
	t.UpdatedAt = ms.now()
	return nil
}

func (ms *MemoryStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) (*DeadLetter, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	dl := DeadLetter{
		ID:       uuid.New(),
		TaskID:   t.ID,
		Queue:    t.Queue,
		Name:     t.Name,
		Payload:  t.Payload,
		Error:    errMsg,
		Attempts: t.Attempts + 1,
		FailedAt: ms.now(),
	}
	ms.dlq = append(ms.dlq, dl)
	delete(ms.tasks, taskID)
	return &dl, nil
}

// ListDeadLetters returns the most recent dead letters first.
func (ms *MemoryStorage) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	out := slices.Clone(ms.dlq)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Task returns a copy of the stored task.
func (ms *MemoryStorage) Task(taskID uuid.UUID) (Task, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	t, ok := ms.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (ms *MemoryStorage) locked(taskID uuid.UUID) (*Task, error) {
	t, ok := ms.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if t.Status != TaskStatusProcessing {
		return nil, ErrTaskNotLocked
	}
	return t, nil
}
