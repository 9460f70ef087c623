package billing

import (
	"context"
	"fmt"
	"time"
)

// Provider is the billing provider the service reconciles against.
// Implementations wrap the official SDKs and map provider-specific data
// into Snapshot and Event values.
type Provider interface {
	CustomerDirectory
	SubscriptionLister
	EventParser

	// Name is a short identifier used in logs and health output.
	Name() string

	// EnsureCustomer returns a customer tagged with userID, creating or
	// tagging one when none exists yet.
	EnsureCustomer(ctx context.Context, userID, email string) (string, error)

	// CreateCheckoutSession starts a hosted checkout bound to the user.
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)

	// CancelAtPeriodEnd stops renewal of a subscription and returns its updated snapshot.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Snapshot, error)

	// FindCheckoutUserID recovers the user bound to the checkout that created
	// subscriptionID. Returns ErrCheckoutNotFound when no binding exists.
	FindCheckoutUserID(ctx context.Context, subscriptionID string) (string, error)
}

// CustomerDirectory looks up remote customers.
type CustomerDirectory interface {
	// FindCustomerByUserID searches customers by the user id metadata tag.
	FindCustomerByUserID(ctx context.Context, userID string) (string, error)
	// FindCustomerByEmail searches customers by contact email.
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
}

// SubscriptionLister lists a customer's active subscriptions.
type SubscriptionLister interface {
	ListActiveSubscriptions(ctx context.Context, customerID string, limit int) ([]Snapshot, error)
}

// EventParser verifies and classifies raw provider events.
type EventParser interface {
	// SignatureHeader names the HTTP header that carries the signature.
	SignatureHeader() string
	// ParseEvent returns ErrInvalidSignature when payload is not authentic.
	ParseEvent(ctx context.Context, payload []byte, signature string) (*Event, error)
}

// CheckoutSessionRequest is what the provider needs to start a checkout.
type CheckoutSessionRequest struct {
	UserID     string
	Email      string
	CustomerID string
	PlanID     string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout created at the provider.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// ProviderConfig selects the billing provider.
type ProviderConfig struct {
	Name string `env:"BILLING_PROVIDER" envDefault:"stripe"`
}

// NewProvider builds the provider named by cfg.Name ("stripe" or "paddle").
func NewProvider(cfg ProviderConfig, stripeCfg StripeConfig, paddleCfg PaddleConfig) (Provider, error) {
	switch cfg.Name {
	case "stripe", "":
		return NewStripeProvider(stripeCfg)
	case "paddle":
		return NewPaddleProvider(paddleCfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Name)
	}
}
