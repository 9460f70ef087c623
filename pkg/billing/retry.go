package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/queue"
)

// EventRetryTask is the queue task name for events awaiting (re)application.
const EventRetryTask = "billing.apply_event"

// EventRetry is the queue payload of a failed event.
type EventRetry struct {
	Event Event  `json:"event"`
	Cause string `json:"cause"`
}

// FailureSink durably records events that could not be applied inline.
type FailureSink interface {
	// Retry schedules ev for background re-application.
	Retry(ctx context.Context, ev Event, cause error) error
	// Bury records ev for operators without retrying it.
	Bury(ctx context.Context, ev Event, cause error) error
}

// QueueFailureSink records failures in the task queue: retries become tasks
// and unrecoverable events become dead letters.
type QueueFailureSink struct {
	enqueuer *queue.Enqueuer
	delay    time.Duration
}

// NewQueueFailureSink creates a sink that schedules retries after delay.
func NewQueueFailureSink(enqueuer *queue.Enqueuer, delay time.Duration) *QueueFailureSink {
	if enqueuer == nil {
		panic("billing: queue.Enqueuer is required")
	}
	return &QueueFailureSink{enqueuer: enqueuer, delay: delay}
}

func (q *QueueFailureSink) Retry(ctx context.Context, ev Event, cause error) error {
	_, err := q.enqueuer.Enqueue(ctx, EventRetryTask, EventRetry{Event: ev, Cause: errString(cause)}, q.delay)
	return err
}

func (q *QueueFailureSink) Bury(ctx context.Context, ev Event, cause error) error {
	_, err := q.enqueuer.Bury(ctx, EventRetryTask, EventRetry{Event: ev, Cause: errString(cause)}, errString(cause))
	return err
}

// NewEventRetryHandler re-applies queued events through s.ProcessEvent.
// Failures that retrying cannot fix are dead-lettered immediately.
func NewEventRetryHandler(s *Service) queue.Handler {
	return queue.NewTaskHandler(EventRetryTask, func(ctx context.Context, p EventRetry) error {
		outcome, err := s.ProcessEvent(ctx, p.Event)
		if err == nil {
			s.logger.InfoContext(ctx, "queued event reconciled",
				logger.EventID(p.Event.ID),
				slog.String("outcome", string(outcome)))
			return nil
		}
		if !Retryable(err) {
			return queue.Permanent(err)
		}
		return err
	})
}

func (s *Service) retry(ctx context.Context, ev Event, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	if err := s.failures.Retry(ctx, ev, cause); err != nil {
		s.logger.ErrorContext(ctx, "failed to schedule event retry",
			logger.EventID(ev.ID),
			logger.Error(errors.Join(cause, err)))
		return err
	}
	s.logger.WarnContext(ctx, "event application deferred",
		logger.EventID(ev.ID),
		logger.EventType(ev.ProviderType),
		logger.Error(cause))
	return nil
}

func (s *Service) bury(ctx context.Context, ev Event, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()

	s.logger.ErrorContext(ctx, "event could not be applied",
		logger.EventID(ev.ID),
		logger.EventType(ev.ProviderType),
		logger.Error(cause))
	if err := s.failures.Bury(ctx, ev, cause); err != nil {
		s.logger.ErrorContext(ctx, "failed to record unapplied event",
			logger.EventID(ev.ID),
			logger.Error(err))
	}
}

// logFailureSink is used when no durable sink is configured.
type logFailureSink struct {
	logger *slog.Logger
}

func (l logFailureSink) Retry(ctx context.Context, ev Event, cause error) error {
	l.logger.ErrorContext(ctx, "no failure sink configured, event retry dropped",
		logger.EventID(ev.ID), logger.Error(cause))
	return errors.New("billing: no failure sink configured")
}

func (l logFailureSink) Bury(ctx context.Context, ev Event, cause error) error {
	l.logger.ErrorContext(ctx, "no failure sink configured, event dropped",
		logger.EventID(ev.ID), logger.Error(cause))
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
