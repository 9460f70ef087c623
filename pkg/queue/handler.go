package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler processes tasks with a given name.
type Handler interface {
	Name() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// TaskHandlerFunc handles a decoded task payload.
type TaskHandlerFunc[T any] func(ctx context.Context, payload T) error

// NewTaskHandler decodes the JSON payload into T before calling fn.
// Undecodable payloads fail permanently.
func NewTaskHandler[T any](name string, fn TaskHandlerFunc[T]) Handler {
	return &taskHandler[T]{name: name, fn: fn}
}

type taskHandler[T any] struct {
	name string
	fn   TaskHandlerFunc[T]
}

func (h *taskHandler[T]) Name() string { return h.name }

func (h *taskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", h.name, err))
	}
	return h.fn(ctx, v)
}
