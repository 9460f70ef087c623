package billing_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/queue"
)

func TestQueueFailureSink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)
	sink := billing.NewQueueFailureSink(enq, time.Minute)

	ev := *subscriptionEvent("evt_1", billing.EventSubscriptionUpdated, baseTime, liveSnapshot("sub_1", baseTime))
	require.NoError(t, sink.Bury(ctx, ev, billing.ErrUnattributable))

	letters, err := storage.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, billing.EventRetryTask, letters[0].Name)
	assert.Contains(t, letters[0].Error, billing.ErrUnattributable.Error())

	var payload billing.EventRetry
	require.NoError(t, json.Unmarshal(letters[0].Payload, &payload))
	assert.Equal(t, "evt_1", payload.Event.ID)
	assert.Equal(t, "sub_1", payload.Event.Subscription.SubscriptionID)
}

func TestEventRetryHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	end := baseTime.Add(time.Hour)

	retryPayload := func(t *testing.T, ev *billing.Event) json.RawMessage {
		t.Helper()
		data, err := json.Marshal(billing.EventRetry{Event: *ev, Cause: "provider unavailable"})
		require.NoError(t, err)
		return data
	}

	t.Run("applies queued event", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		h := billing.NewEventRetryHandler(f.svc)
		assert.Equal(t, billing.EventRetryTask, h.Name())

		ev := subscriptionEvent("evt_1", billing.EventSubscriptionCreated, baseTime, liveSnapshot("sub_1", end))
		require.NoError(t, h.Handle(ctx, retryPayload(t, ev)))
		assert.Equal(t, billing.StatusActive, f.record(t, "user-1").Status)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		snap := liveSnapshot("sub_1", end)
		snap.UserID = ""
		f.provider.On("FindCheckoutUserID", mock.Anything, "sub_1").Return("", errors.New("timeout")).Once()

		err := billing.NewEventRetryHandler(f.svc).Handle(ctx, retryPayload(t, subscriptionEvent("evt_1", billing.EventSubscriptionCreated, baseTime, snap)))
		require.Error(t, err)
		assert.NotErrorIs(t, err, queue.ErrPermanent)
	})

	t.Run("unattributable is permanent", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		snap := liveSnapshot("sub_1", end)
		snap.UserID = ""
		f.provider.On("FindCheckoutUserID", mock.Anything, "sub_1").Return("", billing.ErrCheckoutNotFound).Once()

		err := billing.NewEventRetryHandler(f.svc).Handle(ctx, retryPayload(t, subscriptionEvent("evt_1", billing.EventSubscriptionCreated, baseTime, snap)))
		require.ErrorIs(t, err, queue.ErrPermanent)
		assert.ErrorIs(t, err, billing.ErrUnattributable)
	})

	t.Run("worker dead-letters after retries", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		snap := liveSnapshot("sub_1", end)
		snap.UserID = ""
		f.provider.On("FindCheckoutUserID", mock.Anything, "sub_1").Return("", billing.ErrCheckoutNotFound).Once()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		sink := billing.NewQueueFailureSink(enq, 0)
		require.NoError(t, sink.Retry(ctx, *subscriptionEvent("evt_1", billing.EventSubscriptionCreated, baseTime, snap), errors.New("timeout")))

		w, err := queue.NewWorker(storage, queue.WithWorkerLogger(quietLogger()))
		require.NoError(t, err)
		w.RegisterHandlers(billing.NewEventRetryHandler(f.svc))

		task, err := storage.ClaimTask(ctx, uuid.New(), []string{queue.DefaultQueueName}, time.Minute)
		require.NoError(t, err)
		require.NoError(t, w.Process(task))

		letters, err := storage.ListDeadLetters(ctx, 10)
		require.NoError(t, err)
		require.Len(t, letters, 1)
		assert.Contains(t, letters[0].Error, "cannot be attributed")
	})
}
