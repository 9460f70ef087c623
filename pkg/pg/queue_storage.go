package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dmitrymomot/subsync/pkg/queue"
)

const taskColumns = `id, queue, name, payload, status, attempts, max_attempts,
	scheduled_at, locked_until, locked_by, last_error, created_at, updated_at`

const deadLetterColumns = `id, task_id, queue, name, payload, error, attempts, failed_at`

// QueueStorage implements queue.Storage on the queue_tasks and
// queue_dead_letters tables.
type QueueStorage struct {
	db  DB
	now func() time.Time
}

func NewQueueStorage(db DB) *QueueStorage {
	return &QueueStorage{db: db, now: time.Now}
}

func (s *QueueStorage) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return queue.ErrPayloadNil
	}
	var lockedBy pgtype.UUID
	if task.LockedBy != nil {
		lockedBy = pgtype.UUID{Bytes: *task.LockedBy, Valid: true}
	}
	_, err := s.db.Exec(ctx, `INSERT INTO queue_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		task.ID, task.Queue, task.Name, task.Payload, string(task.Status),
		task.Attempts, task.MaxAttempts, task.ScheduledAt.UTC(), task.LockedUntil,
		lockedBy, task.LastError, task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if IsDuplicateKeyError(err) {
		return queue.ErrTaskExists
	}
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *QueueStorage) CreateDeadLetter(ctx context.Context, dl *queue.DeadLetter) error {
	if dl == nil {
		return queue.ErrPayloadNil
	}
	return insertDeadLetter(ctx, s.db, *dl)
}

// ClaimTask locks the earliest due task. Concurrent workers skip rows locked
// by each other, and processing tasks whose lock expired are claimable again.
func (s *QueueStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	now := s.now().UTC()
	row := s.db.QueryRow(ctx, `UPDATE queue_tasks SET
			status = $1,
			locked_until = $2,
			locked_by = $3,
			updated_at = $4
		WHERE id = (
			SELECT id FROM queue_tasks
			WHERE queue = ANY($5)
				AND scheduled_at <= $4
				AND (status = $6 OR (status = $1 AND locked_until < $4))
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		string(queue.TaskStatusProcessing), now.Add(lockDuration), workerID, now,
		queues, string(queue.TaskStatusPending),
	)

	task, err := scanTask(row)
	if IsNotFoundError(err) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (s *QueueStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.finish(ctx, taskID, `UPDATE queue_tasks SET
			status = $2,
			attempts = attempts + 1,
			locked_until = NULL,
			locked_by = NULL,
			updated_at = $3
		WHERE id = $1 AND status = $4`,
		string(queue.TaskStatusCompleted), s.now().UTC(), string(queue.TaskStatusProcessing),
	)
}

func (s *QueueStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	return s.finish(ctx, taskID, `UPDATE queue_tasks SET
			status = $2,
			attempts = attempts + 1,
			locked_until = NULL,
			locked_by = NULL,
			updated_at = $3,
			last_error = $5,
			scheduled_at = $6
		WHERE id = $1 AND status = $4`,
		string(queue.TaskStatusPending), s.now().UTC(), string(queue.TaskStatusProcessing),
		errMsg, retryAt.UTC(),
	)
}

func (s *QueueStorage) finish(ctx context.Context, taskID uuid.UUID, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, append([]any{taskID}, args...)...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM queue_tasks WHERE id = $1)`, taskID).Scan(&exists); err != nil {
		return fmt.Errorf("check task: %w", err)
	}
	if !exists {
		return queue.ErrTaskNotFound
	}
	return queue.ErrTaskNotLocked
}

// MoveToDLQ deletes the task and stores it as a dead letter in one transaction.
func (s *QueueStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) (*queue.DeadLetter, error) {
	var dl queue.DeadLetter
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `DELETE FROM queue_tasks WHERE id = $1 RETURNING `+taskColumns, taskID)
		task, err := scanTask(row)
		if IsNotFoundError(err) {
			return queue.ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}

		dl = queue.DeadLetter{
			ID:       uuid.New(),
			TaskID:   task.ID,
			Queue:    task.Queue,
			Name:     task.Name,
			Payload:  task.Payload,
			Error:    errMsg,
			Attempts: task.Attempts + 1,
			FailedAt: s.now().UTC(),
		}
		return insertDeadLetter(ctx, tx, dl)
	})
	if err != nil {
		return nil, err
	}
	return &dl, nil
}

// ListDeadLetters returns the most recent dead letters first.
func (s *QueueStorage) ListDeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	sql := `SELECT ` + deadLetterColumns + ` FROM queue_dead_letters ORDER BY failed_at DESC`
	args := []any{}
	if limit > 0 {
		sql += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select dead letters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (queue.DeadLetter, error) {
		var dl queue.DeadLetter
		err := row.Scan(&dl.ID, &dl.TaskID, &dl.Queue, &dl.Name, &dl.Payload, &dl.Error, &dl.Attempts, &dl.FailedAt)
		dl.FailedAt = dl.FailedAt.UTC()
		return dl, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return out, nil
}

func insertDeadLetter(ctx context.Context, db DB, dl queue.DeadLetter) error {
	_, err := db.Exec(ctx, `INSERT INTO queue_dead_letters (`+deadLetterColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, dl.TaskID, dl.Queue, dl.Name, dl.Payload, dl.Error, dl.Attempts, dl.FailedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		t        queue.Task
		status   string
		lockedBy pgtype.UUID
	)
	err := row.Scan(
		&t.ID, &t.Queue, &t.Name, &t.Payload, &status, &t.Attempts, &t.MaxAttempts,
		&t.ScheduledAt, &t.LockedUntil, &lockedBy, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = queue.TaskStatus(status)
	t.ScheduledAt = t.ScheduledAt.UTC()
	t.LockedUntil = utcPtr(t.LockedUntil)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	if lockedBy.Valid {
		id := uuid.UUID(lockedBy.Bytes)
		t.LockedBy = &id
	}
	return &t, nil
}

var _ queue.Storage = (*QueueStorage)(nil)
