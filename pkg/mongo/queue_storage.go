package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/subsync/pkg/queue"
)

const (
	TasksCollection       = "queue_tasks"
	DeadLettersCollection = "queue_dead_letters"
)

// QueueStorage implements queue.Storage on two collections.
type QueueStorage struct {
	tasks       *mongo.Collection
	deadLetters *mongo.Collection
	now         func() time.Time
}

func NewQueueStorage(db *mongo.Database) *QueueStorage {
	return &QueueStorage{
		tasks:       db.Collection(TasksCollection),
		deadLetters: db.Collection(DeadLettersCollection),
		now:         time.Now,
	}
}

// EnsureIndexes creates the index used to claim due tasks.
func (s *QueueStorage) EnsureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "queue", Value: 1},
			{Key: "status", Value: 1},
			{Key: "scheduled_at", Value: 1},
		},
	})
	if err != nil {
		return errors.Join(ErrCreateIndexes, err)
	}
	return nil
}

type taskDocument struct {
	ID          string     `bson:"_id"`
	Queue       string     `bson:"queue"`
	Name        string     `bson:"name"`
	Payload     []byte     `bson:"payload"`
	Status      string     `bson:"status"`
	Attempts    int        `bson:"attempts"`
	MaxAttempts int        `bson:"max_attempts"`
	ScheduledAt time.Time  `bson:"scheduled_at"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	LockedBy    string     `bson:"locked_by,omitempty"`
	LastError   string     `bson:"last_error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

type deadLetterDocument struct {
	ID       string    `bson:"_id"`
	TaskID   string    `bson:"task_id"`
	Queue    string    `bson:"queue"`
	Name     string    `bson:"name"`
	Payload  []byte    `bson:"payload"`
	Error    string    `bson:"error"`
	Attempts int       `bson:"attempts"`
	FailedAt time.Time `bson:"failed_at"`
}

func (s *QueueStorage) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return queue.ErrPayloadNil
	}
	_, err := s.tasks.InsertOne(ctx, toTaskDocument(task))
	if mongo.IsDuplicateKeyError(err) {
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
	if _, err := s.deadLetters.InsertOne(ctx, toDeadLetterDocument(*dl)); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// ClaimTask locks the earliest due task atomically with findOneAndUpdate.
// Processing tasks whose lock expired are claimable again.
func (s *QueueStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	now := s.now().UTC()
	filter := bson.D{
		{Key: "queue", Value: bson.D{{Key: "$in", Value: queues}}},
		{Key: "scheduled_at", Value: bson.D{{Key: "$lte", Value: now}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "status", Value: string(queue.TaskStatusPending)}},
			bson.D{
				{Key: "status", Value: string(queue.TaskStatusProcessing)},
				{Key: "locked_until", Value: bson.D{{Key: "$lt", Value: now}}},
			},
		}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: string(queue.TaskStatusProcessing)},
		{Key: "locked_until", Value: now.Add(lockDuration)},
		{Key: "locked_by", Value: workerID.String()},
		{Key: "updated_at", Value: now},
	}}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "scheduled_at", Value: 1}}).
		SetReturnDocument(options.After)

	var doc taskDocument
	err := s.tasks.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return fromTaskDocument(doc)
}

func (s *QueueStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.finish(ctx, taskID, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(queue.TaskStatusCompleted)},
			{Key: "updated_at", Value: s.now().UTC()},
		}},
		{Key: "$unset", Value: bson.D{{Key: "locked_until", Value: ""}, {Key: "locked_by", Value: ""}}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
}

func (s *QueueStorage) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryAt time.Time) error {
	return s.finish(ctx, taskID, bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(queue.TaskStatusPending)},
			{Key: "last_error", Value: errMsg},
			{Key: "scheduled_at", Value: retryAt.UTC()},
			{Key: "updated_at", Value: s.now().UTC()},
		}},
		{Key: "$unset", Value: bson.D{{Key: "locked_until", Value: ""}, {Key: "locked_by", Value: ""}}},
		{Key: "$inc", Value: bson.D{{Key: "attempts", Value: 1}}},
	})
}

func (s *QueueStorage) finish(ctx context.Context, taskID uuid.UUID, update bson.D) error {
	res, err := s.tasks.UpdateOne(ctx, bson.D{
		{Key: "_id", Value: taskID.String()},
		{Key: "status", Value: string(queue.TaskStatusProcessing)},
	}, update)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missingOrUnlocked(ctx, taskID)
	}
	return nil
}

func (s *QueueStorage) missingOrUnlocked(ctx context.Context, taskID uuid.UUID) error {
	n, err := s.tasks.CountDocuments(ctx, bson.D{{Key: "_id", Value: taskID.String()}})
	if err != nil {
		return fmt.Errorf("count tasks: %w", err)
	}
	if n == 0 {
		return queue.ErrTaskNotFound
	}
	return queue.ErrTaskNotLocked
}

// MoveToDLQ stores the task as a dead letter, then deletes it. A crash
// between the two writes leaves a duplicate, never a lost task.
func (s *QueueStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID, errMsg string) (*queue.DeadLetter, error) {
	var doc taskDocument
	err := s.tasks.FindOne(ctx, bson.D{{Key: "_id", Value: taskID.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, queue.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}

	dl := queue.DeadLetter{
		ID:       uuid.New(),
		TaskID:   taskID,
		Queue:    doc.Queue,
		Name:     doc.Name,
		Payload:  doc.Payload,
		Error:    errMsg,
		Attempts: doc.Attempts + 1,
		FailedAt: s.now().UTC(),
	}
	if err := s.CreateDeadLetter(ctx, &dl); err != nil {
		return nil, err
	}
	if _, err := s.tasks.DeleteOne(ctx, bson.D{{Key: "_id", Value: taskID.String()}}); err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return &dl, nil
}

// ListDeadLetters returns the most recent dead letters first.
func (s *QueueStorage) ListDeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	opts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.deadLetters.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find dead letters: %w", err)
	}
	var docs []deadLetterDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode dead letters: %w", err)
	}

	out := make([]queue.DeadLetter, 0, len(docs))
	for _, d := range docs {
		dl, err := fromDeadLetterDocument(d)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

func toTaskDocument(t *queue.Task) taskDocument {
	doc := taskDocument{
		ID:          t.ID.String(),
		Queue:       t.Queue,
		Name:        t.Name,
		Payload:     t.Payload,
		Status:      string(t.Status),
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		ScheduledAt: t.ScheduledAt.UTC(),
		LockedUntil: t.LockedUntil,
		LastError:   t.LastError,
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if t.LockedBy != nil {
		doc.LockedBy = t.LockedBy.String()
	}
	return doc
}

func fromTaskDocument(d taskDocument) (*queue.Task, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse task id %q: %w", d.ID, err)
	}
	t := &queue.Task{
		ID:          id,
		Queue:       d.Queue,
		Name:        d.Name,
		Payload:     d.Payload,
		Status:      queue.TaskStatus(d.Status),
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		ScheduledAt: d.ScheduledAt.UTC(),
		LockedUntil: utcPtr(d.LockedUntil),
		LastError:   d.LastError,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.LockedBy != "" {
		if by, err := uuid.Parse(d.LockedBy); err == nil {
			t.LockedBy = &by
		}
	}
	return t, nil
}

func toDeadLetterDocument(dl queue.DeadLetter) deadLetterDocument {
	return deadLetterDocument{
		ID:       dl.ID.String(),
		TaskID:   dl.TaskID.String(),
		Queue:    dl.Queue,
		Name:     dl.Name,
		Payload:  dl.Payload,
		Error:    dl.Error,
		Attempts: dl.Attempts,
		FailedAt: dl.FailedAt.UTC(),
	}
}

func fromDeadLetterDocument(d deadLetterDocument) (queue.DeadLetter, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return queue.DeadLetter{}, fmt.Errorf("parse dead letter id %q: %w", d.ID, err)
	}
	taskID, err := uuid.Parse(d.TaskID)
	if err != nil {
		return queue.DeadLetter{}, fmt.Errorf("parse task id %q: %w", d.TaskID, err)
	}
	return queue.DeadLetter{
		ID:       id,
		TaskID:   taskID,
		Queue:    d.Queue,
		Name:     d.Name,
		Payload:  d.Payload,
		Error:    d.Error,
		Attempts: d.Attempts,
		FailedAt: d.FailedAt.UTC(),
	}, nil
}
