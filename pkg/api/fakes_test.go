package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

const goodSignature = "good"

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeProvider is an in-memory billing provider. Events are billing.Event
// JSON and are authentic when signed with goodSignature.
type fakeProvider struct {
	mu        sync.Mutex
	customers map[string]string // user id -> customer id
	emails    map[string]string // email -> customer id
	subs      map[string]billing.Snapshot

	ensureErr error

	ensureCalls   atomic.Int32
	checkoutCalls atomic.Int32
	cancelCalls   atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customers: make(map[string]string),
		emails:    make(map[string]string),
		subs:      make(map[string]billing.Snapshot),
	}
}

func (p *fakeProvider) Name() string            { return "fake" }
func (p *fakeProvider) SignatureHeader() string { return "X-Fake-Signature" }

func (p *fakeProvider) FindCustomerByUserID(_ context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.customers[userID]; ok {
		return id, nil
	}
	return "", billing.ErrCustomerNotFound
}

func (p *fakeProvider) FindCustomerByEmail(_ context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.emails[email]; ok {
		return id, nil
	}
	return "", billing.ErrCustomerNotFound
}

func (p *fakeProvider) EnsureCustomer(_ context.Context, userID, email string) (string, error) {
	p.ensureCalls.Add(1)
	if p.ensureErr != nil {
		return "", p.ensureErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "cus_" + userID
	p.customers[userID] = id
	p.emails[email] = id
	return id, nil
}

func (p *fakeProvider) ListActiveSubscriptions(_ context.Context, customerID string, limit int) ([]billing.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []billing.Snapshot
	for _, s := range p.subs {
		if s.CustomerID == customerID && s.State == billing.RemoteLive {
			out = append(out, s)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	n := p.checkoutCalls.Add(1)
	id := fmt.Sprintf("cs_%d", n)
	return &billing.CheckoutSession{ID: id, URL: "https://pay.example/" + id}, nil
}

func (p *fakeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*billing.Snapshot, error) {
	p.cancelCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.subs[subscriptionID]
	if !ok {
		return nil, billing.ErrNoActiveSubscription
	}
	s.CancelAtPeriodEnd = true
	p.subs[subscriptionID] = s
	return &s, nil
}

func (p *fakeProvider) FindCheckoutUserID(context.Context, string) (string, error) {
	return "", billing.ErrCheckoutNotFound
}

func (p *fakeProvider) ParseEvent(_ context.Context, payload []byte, signature string) (*billing.Event, error) {
	if signature != goodSignature {
		return nil, billing.ErrInvalidSignature
	}
	var ev billing.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(billing.ErrMalformedEvent, err)
	}
	return &ev, nil
}

// subscribe makes the provider report a live subscription for userID.
func (p *fakeProvider) subscribe(userID, subID string, periodEnd time.Time) billing.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	cus, ok := p.customers[userID]
	if !ok {
		cus = "cus_" + userID
		p.customers[userID] = cus
	}
	s := billing.Snapshot{
		SubscriptionID:   subID,
		CustomerID:       cus,
		UserID:           userID,
		RemoteStatus:     "active",
		State:            billing.RemoteLive,
		CurrentPeriodEnd: periodEnd,
	}
	p.subs[subID] = s
	return s
}

// countingStore counts every store call.
type countingStore struct {
	*billing.MemoryStore
	gets  atomic.Int32
	swaps atomic.Int32
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: billing.NewMemoryStore()}
}

func (s *countingStore) Get(ctx context.Context, userID string) (*billing.Record, error) {
	s.gets.Add(1)
	return s.MemoryStore.Get(ctx, userID)
}

func (s *countingStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next billing.Record) error {
	s.swaps.Add(1)
	return s.MemoryStore.CompareAndSwap(ctx, expectedVersion, next)
}

func (s *countingStore) calls() int32 { return s.gets.Load() + s.swaps.Load() }

// testClock is advanced explicitly by tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
