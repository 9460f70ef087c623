package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

const paddleCustomersPageSize = 200

// PaddleConfig holds configuration for the Paddle provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	UserIDKey     string `env:"PADDLE_USER_ID_KEY" envDefault:"user_id"`
	BaseURL       string `env:"PADDLE_API_BASE_URL"`
}

// PaddleProvider implements Provider for Paddle Billing.
//
// Paddle cannot filter customers by custom data, so FindCustomerByUserID
// walks the active customer list and matches UserIDKey client side.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: paddle", ErrMissingAPIKey)
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle", ErrMissingWebhookSecret)
	}
	if config.UserIDKey == "" {
		config.UserIDKey = "user_id"
	}

	var opts []paddle.Option
	if config.BaseURL != "" {
		opts = append(opts, paddle.WithBaseURL(config.BaseURL))
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey, opts...)
	case "production", "":
		client, err = paddle.New(config.APIKey, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidProviderEnvironment, config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

func (p *PaddleProvider) Name() string { return "paddle" }

func (p *PaddleProvider) SignatureHeader() string { return "Paddle-Signature" }

// FindCustomerByUserID returns the first active customer whose custom data
// carries userID under UserIDKey.
func (p *PaddleProvider) FindCustomerByUserID(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrCustomerNotFound
	}

	res, err := p.client.CustomersClient.ListCustomers(ctx, &paddle.ListCustomersRequest{
		Status:  []string{string(paddle.StatusActive)},
		PerPage: paddle.PtrTo(paddleCustomersPageSize),
	})
	if err != nil {
		return "", paddleError("list customers", err)
	}

	var id string
	err = res.Iter(ctx, func(c *paddle.Customer) (bool, error) {
		if customString(c.CustomData, p.config.UserIDKey) == userID {
			id = c.ID
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", paddleError("list customers", err)
	}
	if id == "" {
		return "", ErrCustomerNotFound
	}
	return id, nil
}

// FindCustomerByEmail returns the first customer registered with email.
func (p *PaddleProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	c, err := p.customerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (p *PaddleProvider) customerByEmail(ctx context.Context, email string) (*paddle.Customer, error) {
	res, err := p.client.CustomersClient.ListCustomers(ctx, &paddle.ListCustomersRequest{
		Email: []string{email},
	})
	if err != nil {
		return nil, paddleError("list customers", err)
	}

	var found *paddle.Customer
	err = res.Iter(ctx, func(c *paddle.Customer) (bool, error) {
		found = c
		return false, nil
	})
	if err != nil {
		return nil, paddleError("list customers", err)
	}
	if found == nil {
		return nil, ErrCustomerNotFound
	}
	return found, nil
}

// EnsureCustomer returns the customer tagged with userID, then the customer
// registered with email, and creates one otherwise. A customer reused by
// email gets userID written into its custom data so later lookups by user
// id find it.
func (p *PaddleProvider) EnsureCustomer(ctx context.Context, userID, email string) (string, error) {
	id, err := p.FindCustomerByUserID(ctx, userID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrCustomerNotFound) {
		return "", err
	}

	if email != "" {
		c, err := p.customerByEmail(ctx, email)
		if err == nil {
			if err := p.tagCustomer(ctx, c, userID); err != nil {
				return "", err
			}
			return c.ID, nil
		}
		if !errors.Is(err, ErrCustomerNotFound) {
			return "", err
		}
	}

	c, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email:      email,
		CustomData: paddle.CustomData{p.config.UserIDKey: userID},
	})
	if err != nil {
		return "", paddleError("create customer", err)
	}
	return c.ID, nil
}

// tagCustomer merges userID into the customer's existing custom data.
func (p *PaddleProvider) tagCustomer(ctx context.Context, c *paddle.Customer, userID string) error {
	if customString(c.CustomData, p.config.UserIDKey) == userID {
		return nil
	}

	data := make(paddle.CustomData, len(c.CustomData)+1)
	for k, v := range c.CustomData {
		data[k] = v
	}
	data[p.config.UserIDKey] = userID

	_, err := p.client.CustomersClient.UpdateCustomer(ctx, &paddle.UpdateCustomerRequest{
		CustomerID: c.ID,
		CustomData: paddle.NewPatchField(data),
	})
	if err != nil {
		return paddleError("update customer", err)
	}
	return nil
}

func (p *PaddleProvider) ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]Snapshot, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{customerID},
		Status:     []string{"active", "trialing"},
	})
	if err != nil {
		return nil, paddleError("list subscriptions", err)
	}

	var out []Snapshot
	err = res.Iter(ctx, func(s *paddle.Subscription) (bool, error) {
		out = append(out, p.snapshot(s))
		return limit <= 0 || len(out) < limit, nil
	})
	if err != nil {
		return nil, paddleError("list subscriptions", err)
	}
	return out, nil
}

// CreateCheckoutSession creates a transaction with a hosted checkout URL.
// The transaction's custom data carries the user id and is copied by Paddle
// onto the subscription it creates.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id", ErrMissingField)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			p.config.UserIDKey: req.UserID,
			"plan_id":          req.PlanID,
		},
	}
	if req.CustomerID != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, paddleError("create transaction", err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		ID:  transaction.ID,
		URL: *transaction.Checkout.URL,
		// paddle checkout links expire after a day
		ExpiresAt: time.Now().Add(24 * time.Hour).UTC(),
	}, nil
}

func (p *PaddleProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Snapshot, error) {
	sub, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return nil, paddleError("cancel subscription", err)
	}
	snap := p.snapshot(sub)
	return &snap, nil
}

// FindCheckoutUserID reads the user id from the transactions that created
// or renewed subscriptionID.
func (p *PaddleProvider) FindCheckoutUserID(ctx context.Context, subscriptionID string) (string, error) {
	res, err := p.client.TransactionsClient.ListTransactions(ctx, &paddle.ListTransactionsRequest{
		SubscriptionID: []string{subscriptionID},
	})
	if err != nil {
		return "", paddleError("list transactions", err)
	}

	var userID string
	err = res.Iter(ctx, func(t *paddle.Transaction) (bool, error) {
		userID = customString(t.CustomData, p.config.UserIDKey)
		return userID == "", nil
	})
	if err != nil {
		return "", paddleError("list transactions", err)
	}
	if userID == "" {
		return "", ErrCheckoutNotFound
	}
	return userID, nil
}

type paddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleSubscriptionData struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *struct {
		EndsAt time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
}

// ParseEvent verifies the Paddle-Signature header and classifies the event.
func (p *PaddleProvider) ParseEvent(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/provider-events", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	var pe paddleEvent
	if err := json.Unmarshal(payload, &pe); err != nil {
		return nil, fmt.Errorf("decode paddle event: %w", err)
	}

	ev := &Event{
		ID:           pe.EventID,
		Kind:         paddleEventKind(pe.EventType),
		Provider:     p.Name(),
		ProviderType: pe.EventType,
		OccurredAt:   pe.OccurredAt.UTC(),
	}
	if ev.Kind == EventUnhandled {
		return ev, nil
	}

	var data paddleSubscriptionData
	if err := json.Unmarshal(pe.Data, &data); err != nil {
		return nil, fmt.Errorf("decode paddle subscription: %w", err)
	}

	snap := Snapshot{
		SubscriptionID: data.ID,
		CustomerID:     data.CustomerID,
		UserID:         customString(data.CustomData, p.config.UserIDKey),
		RemoteStatus:   data.Status,
		State:          paddleState(data.Status),
	}
	if data.CurrentBillingPeriod != nil {
		snap.CurrentPeriodEnd = data.CurrentBillingPeriod.EndsAt.UTC()
	}
	if data.ScheduledChange != nil {
		snap.CancelAtPeriodEnd = data.ScheduledChange.Action == "cancel"
	}
	ev.Subscription = &snap
	return ev, nil
}

func (p *PaddleProvider) snapshot(s *paddle.Subscription) Snapshot {
	snap := Snapshot{
		SubscriptionID: s.ID,
		CustomerID:     s.CustomerID,
		UserID:         customString(s.CustomData, p.config.UserIDKey),
		RemoteStatus:   string(s.Status),
		State:          paddleState(string(s.Status)),
	}
	if s.CurrentBillingPeriod != nil {
		if end, err := time.Parse(time.RFC3339, s.CurrentBillingPeriod.EndsAt); err == nil {
			snap.CurrentPeriodEnd = end.UTC()
		}
	}
	if s.ScheduledChange != nil {
		snap.CancelAtPeriodEnd = string(s.ScheduledChange.Action) == "cancel"
	}
	return snap
}

func paddleEventKind(eventType string) EventKind {
	switch eventType {
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.canceled":
		return EventSubscriptionDeleted
	case "subscription.updated", "subscription.activated", "subscription.trialing",
		"subscription.past_due", "subscription.paused", "subscription.resumed":
		return EventSubscriptionUpdated
	default:
		return EventUnhandled
	}
}

func paddleState(status string) RemoteState {
	switch strings.ToLower(status) {
	case "active", "trialing":
		return RemoteLive
	default:
		return RemoteEnded
	}
}

func customString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func paddleError(op string, err error) error {
	return errors.Join(ErrProviderUnavailable, fmt.Errorf("paddle: %s: %w", op, err))
}
