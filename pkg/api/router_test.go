package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/api"
	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
)

type fixture struct {
	provider *fakeProvider
	store    *countingStore
	clock    *testClock
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...api.Option) *fixture {
	t.Helper()

	catalog, err := billing.NewCatalog(context.Background(), billing.StaticPlans{
		{ID: "pro-monthly", Name: "Pro monthly", PriceID: "price_monthly", Interval: billing.BillingIntervalMonthly},
		{ID: "pro-annual", Name: "Pro annual", PriceID: "price_annual", Interval: billing.BillingIntervalAnnual},
	})
	require.NoError(t, err)

	f := &fixture{
		provider: newFakeProvider(),
		store:    newCountingStore(),
		clock:    &testClock{now: baseTime},
	}
	svc := billing.NewService(f.provider, f.store, catalog,
		billing.WithLogger(quietLogger()),
		billing.WithClock(f.clock.Now),
		billing.WithDeduplicator(billing.NewMemoryDeduplicator(time.Hour)),
	)
	f.handler = api.NewRouter(svc, append([]api.Option{
		api.WithLogger(quietLogger()),
		api.WithStoreName("memory"),
	}, opts...)...)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (f *fixture) event(t *testing.T, ev billing.Event) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestCheckoutToActivationFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{
		"planId": "pro-monthly", "userId": "user-1", "contactIdentifier": "u1@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "https://pay.example/cs_1", body["checkoutUrl"])
	assert.Equal(t, "cs_1", body["sessionId"])

	f.clock.Advance(time.Second)
	rec, body = f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["active"])
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["currentPeriodEnd"])

	periodEnd := baseTime.Add(30 * 24 * time.Hour)
	snap := f.provider.subscribe("user-1", "sub_1", periodEnd)
	f.clock.Advance(time.Minute)
	rec, body = f.do(t, http.MethodPost, "/provider-events", f.event(t, billing.Event{
		ID:           "evt_1",
		Kind:         billing.EventSubscriptionCreated,
		Provider:     "fake",
		ProviderType: "subscription.created",
		OccurredAt:   f.clock.Now(),
		Subscription: &snap,
	}), "X-Fake-Signature", goodSignature)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "applied", body["outcome"])

	f.clock.Advance(time.Minute)
	rec, body = f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "pro", body["tier"])
	assert.Equal(t, periodEnd.Format(time.RFC3339), body["currentPeriodEnd"])

	f.clock.Advance(time.Minute)
	rec, body = f.do(t, http.MethodPost, "/subscription-cancel", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sub_1", body["subscriptionId"])
	assert.Equal(t, true, body["cancelAtPeriodEnd"])
	assert.Equal(t, periodEnd.Format(time.RFC3339), body["currentPeriodEnd"])

	f.clock.Advance(time.Minute)
	rec, body = f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "user-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, "canceling", body["status"])
	assert.Equal(t, true, body["cancelAtPeriodEnd"])
}

func TestCheckoutIntentErrors(t *testing.T) {
	t.Parallel()

	t.Run("unlisted plan never reaches the provider", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{
			"planId": "price_1234_enterprise", "userId": "user-1", "contactIdentifier": "u1@example.com",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_plan", body["error"])
		assert.Zero(t, f.provider.ensureCalls.Load())
		assert.Zero(t, f.provider.checkoutCalls.Load())
		assert.Zero(t, f.store.swaps.Load())
	})

	t.Run("provider price ids are not plan ids", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{
			"planId": "price_monthly", "userId": "user-1", "contactIdentifier": "u1@example.com",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_plan", body["error"])
		assert.Zero(t, f.provider.checkoutCalls.Load())
	})

	t.Run("missing field", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{"planId": "pro-monthly"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_field", body["error"])
		assert.NotEmpty(t, body["message"])
	})

	t.Run("malformed json", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_json", body["error"])
	})

	t.Run("provider failure is 502", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.ensureErr = errors.New("connection reset")

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{
			"planId": "pro-annual", "userId": "user-1", "contactIdentifier": "u1@example.com",
		})
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "provider_unavailable", body["error"])
		assert.Empty(t, body["message"], "5xx details stay in the logs")
		assert.Zero(t, f.store.swaps.Load())
	})

	t.Run("already subscribed is 409", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.subscribe("user-1", "sub_1", baseTime.Add(24*time.Hour))

		rec, _ := f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "user-1"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec, body := f.do(t, http.MethodPost, "/checkout-intents", map[string]string{
			"planId": "pro-monthly", "userId": "user-1", "contactIdentifier": "u1@example.com",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "already_subscribed", body["error"])
	})
}

func TestSubscriptionStatus(t *testing.T) {
	t.Parallel()

	t.Run("unknown user is 404", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "user_not_found", body["error"])
		assert.Zero(t, f.store.swaps.Load())
	})

	t.Run("missing user id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/subscription-status", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_field", body["error"])
	})

	t.Run("customer without subscription is inactive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.provider.EnsureCustomer(context.Background(), "user-2", "u2@example.com")
		require.NoError(t, err)

		rec, body := f.do(t, http.MethodPost, "/subscription-status", map[string]string{"userId": "user-2"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["active"])
		assert.Equal(t, "inactive", body["status"])
		assert.Equal(t, "basic", body["tier"])
	})
}

func TestSubscriptionCancel(t *testing.T) {
	t.Parallel()

	t.Run("no subscription is 404 with zero writes", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.provider.EnsureCustomer(context.Background(), "user-1", "u1@example.com")
		require.NoError(t, err)

		rec, body := f.do(t, http.MethodPost, "/subscription-cancel", map[string]string{"userId": "user-1"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "no_active_subscription", body["error"])
		assert.Zero(t, f.store.swaps.Load())
		assert.Zero(t, f.provider.cancelCalls.Load())
	})

	t.Run("unknown user is 404", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, _ := f.do(t, http.MethodPost, "/subscription-cancel", map[string]string{"userId": "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Zero(t, f.store.swaps.Load())
	})

	t.Run("legacy contact identifier", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.provider.subscribe("legacy", "sub_9", baseTime.Add(24*time.Hour))
		f.provider.mu.Lock()
		f.provider.emails["legacy@example.com"] = "cus_legacy"
		delete(f.provider.customers, "legacy")
		f.provider.mu.Unlock()

		rec, body := f.do(t, http.MethodPost, "/subscription-cancel", map[string]string{"contactIdentifier": "legacy@example.com"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "sub_9", body["subscriptionId"])
		assert.Equal(t, true, body["cancelAtPeriodEnd"])
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/subscription-cancel", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "missing_field", body["error"])
	})
}

func TestProviderEvents(t *testing.T) {
	t.Parallel()

	validEvent := func(f *fixture, t *testing.T) []byte {
		snap := f.provider.subscribe("user-1", "sub_1", baseTime.Add(24*time.Hour))
		return f.event(t, billing.Event{
			ID:           "evt_1",
			Kind:         billing.EventSubscriptionUpdated,
			OccurredAt:   baseTime,
			Subscription: &snap,
		})
	}

	t.Run("bad signature is 400 with zero store calls", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/provider-events", validEvent(f, t), "X-Fake-Signature", "forged")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_signature", body["error"])
		assert.Zero(t, f.store.calls())
	})

	t.Run("missing signature is 400", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, _ := f.do(t, http.MethodPost, "/provider-events", validEvent(f, t))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.store.calls())
	})

	t.Run("duplicate delivery is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		payload := validEvent(f, t)

		rec, body := f.do(t, http.MethodPost, "/provider-events", payload, "X-Fake-Signature", goodSignature)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "applied", body["outcome"])
		swaps := f.store.swaps.Load()

		rec, body = f.do(t, http.MethodPost, "/provider-events", payload, "X-Fake-Signature", goodSignature)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["received"])
		assert.Equal(t, "duplicate", body["outcome"])
		assert.Equal(t, swaps, f.store.swaps.Load())
	})

	t.Run("unattributable event is acknowledged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		snap := f.provider.subscribe("user-1", "sub_1", baseTime.Add(24*time.Hour))
		snap.UserID = ""

		rec, body := f.do(t, http.MethodPost, "/provider-events", f.event(t, billing.Event{
			ID: "evt_2", Kind: billing.EventSubscriptionCreated, OccurredAt: baseTime, Subscription: &snap,
		}), "X-Fake-Signature", goodSignature)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["received"])
		assert.Equal(t, "unattributable", body["outcome"])
		assert.NotEmpty(t, body["error"])
		assert.Zero(t, f.store.swaps.Load())
	})

	t.Run("unhandled event type", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec, body := f.do(t, http.MethodPost, "/provider-events", f.event(t, billing.Event{
			ID: "evt_3", Kind: billing.EventUnhandled, ProviderType: "invoice.paid", OccurredAt: baseTime,
		}), "X-Fake-Signature", goodSignature)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ignored", body["outcome"])
	})

	t.Run("deleted before updated ends inactive", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		snap := f.provider.subscribe("user-1", "sub_1", baseTime.Add(24*time.Hour))

		send := func(id string, kind billing.EventKind, at time.Time) {
			rec, _ := f.do(t, http.MethodPost, "/provider-events", f.event(t, billing.Event{
				ID: id, Kind: kind, OccurredAt: at, Subscription: &snap,
			}), "X-Fake-Signature", goodSignature)
			require.Equal(t, http.StatusOK, rec.Code)
		}
		send("evt_created", billing.EventSubscriptionCreated, baseTime)
		send("evt_deleted", billing.EventSubscriptionDeleted, baseTime.Add(3*time.Second))
		send("evt_updated", billing.EventSubscriptionUpdated, baseTime.Add(2*time.Second))

		rec, err := f.store.MemoryStore.Get(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, billing.StatusInactive, rec.Status)
		assert.Equal(t, billing.TierBasic, rec.Tier)
		assert.Empty(t, rec.RemoteSubscriptionID)
	})

	t.Run("oversized payload", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, api.WithMaxEventBytes(16))

		rec, body := f.do(t, http.MethodPost, "/provider-events", strings.Repeat("x", 64), "X-Fake-Signature", goodSignature)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "payload_too_large", body["error"])
		assert.Zero(t, f.store.calls())
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, api.WithHealthChecks(httpserver.Check{Name: "store", Fn: func(context.Context) error { return nil }}))

		rec, body := f.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "fake", body["provider"])
		assert.Equal(t, "memory", body["store"])
		assert.Equal(t, true, body["providerConfigured"])
		assert.Equal(t, true, body["storeConfigured"])
		assert.Equal(t, map[string]any{"store": "ok"}, body["checks"])
	})

	t.Run("degraded", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, api.WithHealthChecks(httpserver.Check{Name: "redis", Fn: func(context.Context) error { return errors.New("down") }}))

		rec, body := f.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestRouting(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	rec, body = f.do(t, http.MethodGet, "/subscription-status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/health", nil, api.RequestIDHeader, "req-123")
	assert.Equal(t, "req-123", rec.Header().Get(api.RequestIDHeader))

	rec, _ = f.do(t, http.MethodGet, "/health", nil, api.RequestIDHeader, "bad id/with spaces")
	assert.NotEqual(t, "bad id/with spaces", rec.Header().Get(api.RequestIDHeader))
	assert.NotEmpty(t, rec.Header().Get(api.RequestIDHeader))
}
