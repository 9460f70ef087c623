package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe provider.
type StripeConfig struct {
	APIKey           string        `env:"STRIPE_API_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
	UserIDMetadata   string        `env:"STRIPE_USER_ID_METADATA_KEY" envDefault:"userId"`
	// APIBaseURL overrides the API endpoint, e.g. for stripe-mock.
	APIBaseURL string `env:"STRIPE_API_BASE_URL"`
}

const (
	stripeEventSubscriptionCreated = "customer.subscription.created"
	stripeEventSubscriptionUpdated = "customer.subscription.updated"
	stripeEventSubscriptionDeleted = "customer.subscription.deleted"

	stripeListPageSize = 20
)

// StripeProvider implements Provider for Stripe.
type StripeProvider struct {
	api    *client.API
	config StripeConfig
}

// NewStripeProvider creates a Stripe provider with its own API client.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: stripe", ErrMissingAPIKey)
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe", ErrMissingWebhookSecret)
	}
	if config.UserIDMetadata == "" {
		config.UserIDMetadata = "userId"
	}
	if config.WebhookTolerance <= 0 {
		config.WebhookTolerance = webhook.DefaultTolerance
	}

	var backends *stripe.Backends
	if config.APIBaseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(strings.TrimRight(config.APIBaseURL, "/")),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	return &StripeProvider{
		api:    client.New(config.APIKey, backends),
		config: config,
	}, nil
}

func (p *StripeProvider) Name() string { return "stripe" }

func (p *StripeProvider) SignatureHeader() string { return "Stripe-Signature" }

// FindCustomerByUserID searches customers by the user id stored under
// UserIDMetadata.
func (p *StripeProvider) FindCustomerByUserID(ctx context.Context, userID string) (string, error) {
	params := &stripe.CustomerSearchParams{}
	params.Context = ctx
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", p.config.UserIDMetadata, escapeSearchValue(userID))
	params.Limit = stripe.Int64(1)

	iter := p.api.Customers.Search(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", stripeError("search customers", err)
	}
	return "", ErrCustomerNotFound
}

// FindCustomerByEmail returns the first customer registered with email.
func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := p.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", stripeError("list customers", err)
	}
	return "", ErrCustomerNotFound
}

// EnsureCustomer returns the customer tagged with userID. A legacy customer
// found by email is tagged; otherwise a new customer is created.
func (p *StripeProvider) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	id, err := p.FindCustomerByUserID(ctx, userID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", err
	}

	if email != "" {
		id, err = p.FindCustomerByEmail(ctx, email)
		switch {
		case err == nil:
			params := &stripe.CustomerParams{}
			params.Context = ctx
			params.AddMetadata(p.config.UserIDMetadata, userID)
			if _, err := p.api.Customers.Update(id, params); err != nil {
				return "", stripeError("tag customer", err)
			}
			return id, nil
		case !errors.Is(err, ErrCustomerNotFound):
			return "", err
		}
	}

	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(p.config.UserIDMetadata, userID)

	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", stripeError("create customer", err)
	}
	return c.ID, nil
}

// ListActiveSubscriptions returns the customer's subscriptions that classify
// as RemoteLive under the same mapping webhook events use. Stripe's "active"
// filter excludes trialing, so the listing asks for every status.
func (p *StripeProvider) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]Snapshot, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(stripeListPageSize)

	var out []Snapshot
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		snap := p.snapshot(iter.Subscription())
		if snap.State != RemoteLive {
			continue
		}
		out = append(out, snap)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return nil, stripeError("list subscriptions", err)
	}
	return out, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id", ErrMissingField)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(req.UserID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				p.config.UserIDMetadata: req.UserID,
				"planId":                req.PlanID,
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(p.config.UserIDMetadata, req.UserID)
	params.AddMetadata("planId", req.PlanID)
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, stripeError("create checkout session", err)
	}

	out := &CheckoutSession{ID: sess.ID, URL: sess.URL}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return out, nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Snapshot, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrNoActiveSubscription
		}
		return nil, stripeError("cancel subscription", err)
	}
	snap := p.snapshot(sub)
	return &snap, nil
}

// FindCheckoutUserID reads the client reference of the checkout session that
// created subscriptionID, falling back to the session metadata.
func (p *StripeProvider) FindCheckoutUserID(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.CheckoutSessionListParams{Subscription: stripe.String(subscriptionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := p.api.CheckoutSessions.List(params)
	if iter.Next() {
		sess := iter.CheckoutSession()
		if sess.ClientReferenceID != "" {
			return sess.ClientReferenceID, nil
		}
		if id := sess.Metadata[p.config.UserIDMetadata]; id != "" {
			return id, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", stripeError("list checkout sessions", err)
	}
	return "", ErrCheckoutNotFound
}

// ParseEvent verifies the Stripe-Signature header and classifies the event.
func (p *StripeProvider) ParseEvent(_ context.Context, payload []byte, signature string) (*Event, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, p.config.WebhookSecret, p.config.WebhookTolerance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	ev := &Event{
		ID:           se.ID,
		Provider:     p.Name(),
		ProviderType: string(se.Type),
		OccurredAt:   time.Unix(se.Created, 0).UTC(),
	}

	switch se.Type {
	case stripeEventSubscriptionCreated:
		ev.Kind = EventSubscriptionCreated
	case stripeEventSubscriptionUpdated:
		ev.Kind = EventSubscriptionUpdated
	case stripeEventSubscriptionDeleted:
		ev.Kind = EventSubscriptionDeleted
	default:
		ev.Kind = EventUnhandled
		return ev, nil
	}

	if se.Data == nil || len(se.Data.Raw) == 0 {
		return nil, fmt.Errorf("stripe event %s has no data object", se.ID)
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(se.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("decode stripe subscription: %w", err)
	}
	snap := p.snapshot(&sub)
	ev.Subscription = &snap
	return ev, nil
}

func (p *StripeProvider) snapshot(sub *stripe.Subscription) Snapshot {
	snap := Snapshot{
		SubscriptionID:    sub.ID,
		RemoteStatus:      string(sub.Status),
		State:             stripeState(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		UserID:            sub.Metadata[p.config.UserIDMetadata],
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	// period end moved to subscription items; a multi-item subscription
	// renews at its latest item period end
	var end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	if end > 0 {
		snap.CurrentPeriodEnd = time.Unix(end, 0).UTC()
	}
	return snap
}

func stripeState(status stripe.SubscriptionStatus) RemoteState {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return RemoteLive
	case stripe.SubscriptionStatusIncomplete:
		return RemoteAwaitingPayment
	default:
		return RemoteEnded
	}
}

func isStripeNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}

func stripeError(op string, err error) error {
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("stripe: %s: %w", op, err))
}

// escapeSearchValue escapes quotes in values embedded in a search query.
func escapeSearchValue(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}
