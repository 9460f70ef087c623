package queue

import (
	"errors"
	"fmt"
)

var (
	ErrRepositoryNil  = errors.New("repository cannot be nil")
	ErrPayloadNil     = errors.New("payload cannot be nil")
	ErrTaskNameEmpty  = errors.New("task name cannot be empty")
	ErrTaskNotFound   = errors.New("task not found")
	ErrTaskNotLocked  = errors.New("task is not in processing state")
	ErrTaskExists     = errors.New("task already exists")
	ErrNoTaskToClaim  = errors.New("no task to claim")
	ErrNoHandlers     = errors.New("no task handlers registered")
	ErrWorkerStarted  = errors.New("worker already started")
	ErrHandlerMissing = errors.New("no handler registered for task")

	// ErrPermanent marks handler errors that retrying cannot fix.
	ErrPermanent = errors.New("permanent task failure")
)

// Permanent wraps err so the worker moves the task straight to the dead letter
// queue instead of retrying it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
