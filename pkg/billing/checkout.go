package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// CheckoutConfig holds the redirect targets of hosted checkouts.
type CheckoutConfig struct {
	SuccessURL string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:8080/billing/success"`
	CancelURL  string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:8080/billing/cancel"`
	PendingTTL time.Duration `env:"CHECKOUT_PENDING_TTL" envDefault:"24h"`
}

// CheckoutTracker starts checkouts and records the pending intent.
type CheckoutTracker struct {
	catalog  *Catalog
	provider Provider
	store    RecordStore
	engine   *Engine
	config   CheckoutConfig
	timeout  time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

func newCheckoutTracker(s *Service) *CheckoutTracker {
	return &CheckoutTracker{
		catalog:  s.catalog,
		provider: s.provider,
		store:    s.store,
		engine:   s.engine,
		config:   s.checkout,
		timeout:  s.providerTimeout,
		clock:    s.clock,
		logger:   s.logger,
	}
}

// CreateIntent validates the plan against the catalog before any provider
// call, binds the user to the checkout, and records the pending intent.
func (t *CheckoutTracker) CreateIntent(ctx context.Context, req CheckoutIntentRequest) (*CheckoutIntent, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.PlanID = strings.TrimSpace(req.PlanID)
	req.ContactIdentifier = strings.TrimSpace(req.ContactIdentifier)

	switch {
	case req.PlanID == "":
		return nil, fmt.Errorf("%w: planId", ErrMissingField)
	case req.UserID == "":
		return nil, fmt.Errorf("%w: userId", ErrMissingField)
	case req.ContactIdentifier == "":
		return nil, fmt.Errorf("%w: contactIdentifier", ErrMissingField)
	}

	plan, ok := t.catalog.Lookup(req.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, req.PlanID)
	}

	if rec, err := t.current(ctx, req.UserID); err != nil {
		return nil, err
	} else if rec.Status.Entitled() {
		return nil, ErrAlreadySubscribed
	}

	pctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	customerID, err := t.provider.EnsureCustomer(pctx, req.UserID, req.ContactIdentifier)
	if err != nil {
		return nil, wrapProviderError(err)
	}

	session, err := t.provider.CreateCheckoutSession(pctx, CheckoutSessionRequest{
		UserID:     req.UserID,
		Email:      req.ContactIdentifier,
		CustomerID: customerID,
		PlanID:     plan.ID,
		PriceID:    plan.PriceID,
		SuccessURL: t.config.SuccessURL,
		CancelURL:  t.config.CancelURL,
	})
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if session.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	createdAt := t.clock()
	_, err = t.engine.Apply(ctx, req.UserID, Update{
		Fields: Fields{
			Status:                   StatusPending,
			PendingCheckoutSessionID: session.ID,
			RemoteCustomerID:         customerID,
		},
		Watermark: createdAt,
	})
	switch {
	case errors.Is(err, ErrInvalidTransition):
		// an activation landed between the check above and the write
		return nil, ErrAlreadySubscribed
	case errors.Is(err, ErrStaleEvent):
		t.logger.WarnContext(ctx, "pending intent older than applied state, not recorded",
			logger.UserID(req.UserID),
			logger.CheckoutSessionID(session.ID))
	case err != nil:
		return nil, err
	}

	return &CheckoutIntent{
		SessionID:   session.ID,
		CheckoutURL: session.URL,
		PlanID:      plan.ID,
		CreatedAt:   createdAt,
	}, nil
}

func (t *CheckoutTracker) current(ctx context.Context, userID string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, t.engine.storeTimeout)
	defer cancel()

	rec, err := t.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return NewRecord(userID), nil
	case err != nil:
		return Record{}, errors.Join(ErrStoreUnavailable, err)
	}
	return *rec, nil
}
