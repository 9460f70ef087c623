package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Update is a single state change offered to the engine.
type Update struct {
	Fields Fields
	// Watermark is the causal time of the information in Fields: the provider
	// event's creation time for pushes, the fetch time for pulls.
	Watermark time.Time
	Guards    []Guard
}

// Watermark normalizes t to the resolution shared by all sources.
// Provider event timestamps carry whole seconds, so local ones are truncated to match.
func Watermark(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// Engine is the only writer of subscription records.
// Ordering between concurrent writers for the same user comes from the
// watermark comparison and the store's compare-and-swap, never from a lock.
type Engine struct {
	store        RecordStore
	clock        func() time.Time
	maxAttempts  int
	storeTimeout time.Duration
	logger       *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the clock used for LastUpdated.
func WithEngineClock(clock func() time.Time) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMaxAttempts bounds the compare-and-swap retries on version conflicts.
func WithMaxAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithEngineStoreTimeout bounds every individual store call.
func WithEngineStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

// WithEngineLogger sets the engine logger. A nil logger is ignored.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates the reconciliation engine over store.
func NewEngine(store RecordStore, opts ...EngineOption) *Engine {
	if store == nil {
		panic("billing: RecordStore is required")
	}

	e := &Engine{
		store:        store,
		clock:        time.Now,
		maxAttempts:  5,
		storeTimeout: 5 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply writes u for userID unless it is older than what is already stored.
//
// On success it returns the written record. When the update is stale it
// returns the current record and ErrStaleEvent without writing anything.
// Transition and guard failures also return the current record untouched.
func (e *Engine) Apply(ctx context.Context, userID string, u Update) (Record, error) {
	if userID == "" {
		return Record{}, fmt.Errorf("%w: user id", ErrMissingField)
	}

	wm := Watermark(u.Watermark)

	for range e.maxAttempts {
		current, err := e.load(ctx, userID)
		if err != nil {
			return Record{}, err
		}

		if wm.Before(current.LastAppliedEventTimestamp) {
			e.logger.DebugContext(ctx, "stale update rejected",
				logger.UserID(userID),
				logger.Watermark(wm),
				slog.Time("applied_watermark", current.LastAppliedEventTimestamp))
			return current, ErrStaleEvent
		}

		if err := checkTransition(current.Status, u.Fields.Status); err != nil {
			return current, err
		}
		for _, guard := range u.Guards {
			if err := guard(current, u.Fields); err != nil {
				return current, err
			}
		}

		next := merge(current, u.Fields, wm, e.clock())
		if err := next.Validate(); err != nil {
			return current, err
		}

		err = e.swap(ctx, current.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return current, err
		}

		e.logger.InfoContext(ctx, "subscription record updated",
			logger.UserID(userID),
			slog.String("from", string(current.Status)),
			slog.String("to", string(next.Status)),
			logger.Watermark(wm))
		return next, nil
	}

	return Record{}, fmt.Errorf("%w: user %s after %d attempts", ErrConflictRetriesExhausted, userID, e.maxAttempts)
}

func (e *Engine) load(ctx context.Context, userID string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	rec, err := e.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return NewRecord(userID), nil
	case err != nil:
		return Record{}, errors.Join(ErrStoreUnavailable, err)
	}
	return *rec, nil
}

func (e *Engine) swap(ctx context.Context, expected int64, next Record) error {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	err := e.store.CompareAndSwap(ctx, expected, next)
	if err != nil && !errors.Is(err, ErrVersionConflict) {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return err
}

func merge(current Record, f Fields, wm, now time.Time) Record {
	next := current
	next.Status = f.Status
	next.Tier = TierFor(f.Status)
	next.RemoteSubscriptionID = f.RemoteSubscriptionID
	next.CurrentPeriodEnd = f.CurrentPeriodEnd
	next.CancelAtPeriodEnd = f.CancelAtPeriodEnd
	next.PendingCheckoutSessionID = f.PendingCheckoutSessionID

	switch {
	case f.Status != StatusPending:
		next.PendingSince = nil
	case current.Status != StatusPending || current.PendingCheckoutSessionID != f.PendingCheckoutSessionID:
		since := wm
		next.PendingSince = &since
	}

	if f.RemoteCustomerID != "" {
		next.RemoteCustomerID = f.RemoteCustomerID
	}

	next.LastAppliedEventTimestamp = wm
	next.LastUpdated = now.UTC()
	next.Version = current.Version + 1
	return next
}
