package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Service ties the resolver, fetcher, projector, engine, checkout tracker and
// gateway together behind the operations exposed over HTTP.
type Service struct {
	provider Provider
	store    RecordStore
	catalog  *Catalog

	engine   *Engine
	resolver *Resolver
	fetcher  *Fetcher
	tracker  *CheckoutTracker
	gateway  *Gateway

	dedup    EventDeduplicator
	failures FailureSink

	checkout          CheckoutConfig
	providerTimeout   time.Duration
	storeTimeout      time.Duration
	processingTimeout time.Duration
	clock             func() time.Time
	logger            *slog.Logger
}

// NewService wires the reconciliation components. Provider, store and catalog
// are required; NewService panics when any of them is nil.
func NewService(provider Provider, store RecordStore, catalog *Catalog, opts ...ServiceOption) *Service {
	if provider == nil {
		panic("billing: Provider is required")
	}
	if store == nil {
		panic("billing: RecordStore is required")
	}
	if catalog == nil {
		panic("billing: Catalog is required")
	}

	s := &Service{
		provider: provider,
		store:    store,
		catalog:  catalog,
		checkout: CheckoutConfig{
			SuccessURL: "http://localhost:8080/billing/success",
			CancelURL:  "http://localhost:8080/billing/cancel",
			PendingTTL: 24 * time.Hour,
		},
		providerTimeout:   10 * time.Second,
		storeTimeout:      5 * time.Second,
		processingTimeout: 15 * time.Second,
		clock:             time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.failures == nil {
		s.failures = logFailureSink{logger: s.logger}
	}

	s.engine = NewEngine(store,
		WithEngineClock(s.clock),
		WithEngineStoreTimeout(s.storeTimeout),
		WithEngineLogger(s.logger),
	)
	s.resolver = NewResolver(provider, store, s.providerTimeout)
	s.fetcher = NewFetcher(provider, s.providerTimeout)
	s.gateway = NewGateway(provider)
	s.tracker = newCheckoutTracker(s)
	return s
}

// Engine exposes the single write path for callers that reconcile on their own.
func (s *Service) Engine() *Engine { return s.engine }

// Catalog returns the plan allow-list.
func (s *Service) Catalog() *Catalog { return s.catalog }

// ProviderName identifies the configured billing provider.
func (s *Service) ProviderName() string { return s.provider.Name() }

// SignatureHeader is the header carrying event signatures for the provider.
func (s *Service) SignatureHeader() string { return s.gateway.SignatureHeader() }

// CreateCheckoutIntent starts a checkout for an allow-listed plan.
func (s *Service) CreateCheckoutIntent(ctx context.Context, req CheckoutIntentRequest) (*CheckoutIntent, error) {
	return s.tracker.CreateIntent(ctx, req)
}

// SyncStatus pulls the provider's current view for userID, applies it, and
// returns the resulting record.
//
// A user with neither a record nor a provider customer yields ErrUserNotFound.
// A pending checkout with no subscription yet is kept pending until
// CheckoutConfig.PendingTTL elapses.
func (s *Service) SyncStatus(ctx context.Context, userID string) (Record, error) {
	if userID == "" {
		return Record{}, fmt.Errorf("%w: userId", ErrMissingField)
	}

	now := s.clock()
	existing, err := s.lookup(ctx, userID)
	if err != nil {
		return Record{}, err
	}

	var snap *Snapshot
	customerID, err := s.resolver.Resolve(ctx, userID)
	switch {
	case errors.Is(err, ErrCustomerNotFound):
		if existing == nil {
			return Record{}, ErrUserNotFound
		}
	case err != nil:
		return Record{}, err
	default:
		snap, err = s.fetcher.FetchActive(ctx, customerID)
		if err != nil {
			return Record{}, err
		}
	}

	if snap == nil && existing != nil && existing.Status == StatusPending &&
		!existing.PendingExpired(now, s.checkout.PendingTTL) {
		return *existing, nil
	}

	fields := Project(snap)
	fields.RemoteCustomerID = customerID

	rec, err := s.engine.Apply(ctx, userID, Update{Fields: fields, Watermark: now})
	if IsBenign(err) {
		return rec, nil
	}
	return rec, err
}

// Cancel stops renewal of the caller's active subscription at the end of the
// current period. The user is resolved by id and falls back to the contact
// identifier for legacy customers.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*Cancellation, error) {
	customerID, err := s.resolver.ResolveForCancel(ctx, req.UserID, req.ContactIdentifier)
	if errors.Is(err, ErrCustomerNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}

	active, err := s.fetcher.FetchActive(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, ErrNoActiveSubscription
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	updated, err := s.provider.CancelAtPeriodEnd(pctx, active.SubscriptionID)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if updated.CustomerID == "" {
		updated.CustomerID = customerID
	}

	userID := req.UserID
	if userID == "" {
		userID = updated.UserID
	}
	if userID != "" {
		// the provider already accepted the cancellation; a failed local write is
		// repaired by the subscription.updated event that follows
		_, err := s.engine.Apply(ctx, userID, Update{
			Fields:    Project(updated),
			Watermark: s.clock(),
		})
		if err != nil && !IsBenign(err) {
			s.logger.WarnContext(ctx, "cancellation not reflected locally",
				logger.UserID(userID),
				logger.SubscriptionID(updated.SubscriptionID),
				logger.Error(err))
		}
	}

	return &Cancellation{
		SubscriptionID:    updated.SubscriptionID,
		CurrentPeriodEnd:  updated.CurrentPeriodEnd,
		CancelAtPeriodEnd: updated.CancelAtPeriodEnd,
	}, nil
}

// ReceiveEvent authenticates a raw provider event and applies it.
//
// The only returned error is ErrInvalidSignature. Every authentic event gets a
// Receipt; events that could not be applied are handed to the FailureSink
// for background retry or dead-lettering before the receipt is returned.
func (s *Service) ReceiveEvent(ctx context.Context, payload []byte, signature string) (*Receipt, error) {
	ev, err := s.gateway.Ingest(ctx, payload, signature)
	if errors.Is(err, ErrInvalidSignature) {
		s.logger.WarnContext(ctx, "rejected provider event", logger.Error(err))
		return nil, err
	}
	if err != nil {
		failed := Event{Kind: EventUnhandled, Provider: s.provider.Name()}
		if ev != nil {
			failed = *ev
		}
		failed.Raw = payload
		s.bury(ctx, failed, err)
		return &Receipt{EventID: failed.ID, Kind: failed.Kind, Outcome: OutcomeFailed, Err: err}, nil
	}

	rcpt := &Receipt{EventID: ev.ID, Kind: ev.Kind}
	if !s.claim(ctx, ev.ID) {
		rcpt.Outcome = OutcomeDuplicate
		return rcpt, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.processingTimeout)
	defer cancel()

	rcpt.Outcome, rcpt.Err = s.ProcessEvent(pctx, *ev)
	if rcpt.Err == nil {
		return rcpt, nil
	}

	ev.Raw = payload
	switch {
	case errors.Is(rcpt.Err, ErrUnattributable):
		rcpt.Outcome = OutcomeUnattributable
		s.bury(ctx, *ev, rcpt.Err)
	case Retryable(rcpt.Err):
		s.release(ctx, ev.ID)
		rcpt.Outcome = OutcomeDeferred
		if err := s.retry(ctx, *ev, rcpt.Err); err != nil {
			rcpt.Outcome = OutcomeFailed
		}
	default:
		s.bury(ctx, *ev, rcpt.Err)
	}
	return rcpt, nil
}

// ProcessEvent applies a verified event. It is used both inline by
// ReceiveEvent and by the background retry worker.
func (s *Service) ProcessEvent(ctx context.Context, ev Event) (Outcome, error) {
	var fields Fields
	switch ev.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		if ev.Subscription == nil {
			return OutcomeFailed, fmt.Errorf("%w: %s without subscription", ErrMalformedEvent, ev.Kind)
		}
		switch ev.Subscription.State {
		case RemoteLive:
			fields = Project(ev.Subscription)
		case RemoteAwaitingPayment:
			s.logger.DebugContext(ctx, "subscription awaiting first payment",
				logger.EventID(ev.ID),
				logger.SubscriptionID(ev.Subscription.SubscriptionID))
			return OutcomeIgnored, nil
		default:
			fields = Project(nil)
		}
	case EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return OutcomeFailed, fmt.Errorf("%w: %s without subscription", ErrMalformedEvent, ev.Kind)
		}
		fields = Project(nil)
	case EventUnhandled:
		s.logger.InfoContext(ctx, "unhandled provider event",
			logger.EventID(ev.ID),
			logger.EventType(ev.ProviderType))
		return OutcomeIgnored, nil
	default:
		return OutcomeFailed, fmt.Errorf("%w: %q", ErrUnknownEventKind, ev.Kind)
	}
	fields.RemoteCustomerID = ev.Subscription.CustomerID

	userID, err := s.attribute(ctx, ev.Subscription)
	if err != nil {
		return OutcomeFailed, err
	}

	_, err = s.engine.Apply(ctx, userID, Update{
		Fields:    fields,
		Watermark: ev.OccurredAt,
		Guards:    []Guard{BoundSubscriptionGuard(ev.Subscription.SubscriptionID)},
	})
	switch {
	case errors.Is(err, ErrStaleEvent):
		return OutcomeStale, nil
	case errors.Is(err, ErrEventSuperseded):
		s.logger.InfoContext(ctx, "event for superseded subscription ignored",
			logger.EventID(ev.ID),
			logger.UserID(userID),
			logger.Error(err))
		return OutcomeIgnored, nil
	case err != nil:
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

// attribute finds the user an event belongs to: subscription metadata first,
// then the checkout session that created the subscription.
func (s *Service) attribute(ctx context.Context, snap *Snapshot) (string, error) {
	if snap.UserID != "" {
		return snap.UserID, nil
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	userID, err := s.provider.FindCheckoutUserID(pctx, snap.SubscriptionID)
	switch {
	case errors.Is(err, ErrNotFound), err == nil && userID == "":
		return "", fmt.Errorf("%w: subscription %s", ErrUnattributable, snap.SubscriptionID)
	case err != nil:
		return "", wrapProviderError(err)
	}
	return userID, nil
}

func (s *Service) lookup(ctx context.Context, userID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rec, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return rec, nil
}

// Retryable reports whether a failed application may succeed later.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrConflictRetriesExhausted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
