package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) SignatureHeader() string { return "X-Mock-Signature" }

func (m *mockProvider) FindCustomerByUserID(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]billing.Snapshot, error) {
	args := m.Called(ctx, customerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]billing.Snapshot), args.Error(1)
}

func (m *mockProvider) ParseEvent(ctx context.Context, payload []byte, signature string) (*billing.Event, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Event), args.Error(1)
}

func (m *mockProvider) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	args := m.Called(ctx, userID, email)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.CheckoutSession), args.Error(1)
}

func (m *mockProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*billing.Snapshot, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.Snapshot), args.Error(1)
}

func (m *mockProvider) FindCheckoutUserID(ctx context.Context, subscriptionID string) (string, error) {
	args := m.Called(ctx, subscriptionID)
	return args.String(0), args.Error(1)
}

// countingStore wraps MemoryStore and counts calls. conflicts makes the next
// n swaps fail with ErrVersionConflict.
type countingStore struct {
	*billing.MemoryStore
	gets      atomic.Int32
	swaps     atomic.Int32
	conflicts atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: billing.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, userID string) (*billing.Record, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, userID)
}

func (s *countingStore) CompareAndSwap(ctx context.Context, expected int64, next billing.Record) error {
	s.swaps.Add(1)
	if s.conflicts.Load() > 0 {
		s.conflicts.Add(-1)
		return billing.ErrVersionConflict
	}
	return s.MemoryStore.CompareAndSwap(ctx, expected, next)
}

func (s *countingStore) calls() int32 {
	return s.gets.Load() + s.swaps.Load()
}

// recordingSink is a FailureSink that keeps everything in memory.
type recordingSink struct {
	mu      sync.Mutex
	retried []billing.Event
	buried  []billing.Event
}

func (r *recordingSink) Retry(_ context.Context, ev billing.Event, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried = append(r.retried, ev)
	return nil
}

func (r *recordingSink) Bury(_ context.Context, ev billing.Event, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buried = append(r.buried, ev)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog() *billing.Catalog {
	cat, err := billing.NewCatalog(context.Background(), billing.StaticPlans{
		{ID: "pro-monthly", Name: "Pro monthly", PriceID: "price_monthly", Interval: billing.BillingIntervalMonthly},
		{ID: "pro-annual", Name: "Pro annual", PriceID: "price_annual", Interval: billing.BillingIntervalAnnual},
	})
	if err != nil {
		panic(err)
	}
	return cat
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func liveSnapshot(subID string, end time.Time) *billing.Snapshot {
	return &billing.Snapshot{
		SubscriptionID:   subID,
		CustomerID:       "cus_1",
		UserID:           "user-1",
		RemoteStatus:     "active",
		State:            billing.RemoteLive,
		CurrentPeriodEnd: end,
	}
}
