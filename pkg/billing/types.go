package billing

import (
	"fmt"
	"time"
)

// Status is the local lifecycle state of a user's paid subscription.
type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCanceling Status = "canceling"
	StatusInactive  Status = "inactive"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusActive, StatusCanceling, StatusInactive:
		return true
	}
	return false
}

// Entitled reports whether the status grants paid features.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusCanceling
}

// Tier is the feature tier derived from Status.
type Tier string

const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// TierFor derives the tier from the status alone.
func TierFor(s Status) Tier {
	if s.Entitled() {
		return TierPro
	}
	return TierBasic
}

// Record is the persisted per-user subscription view.
// UserID is the primary key; everything else is written only by Engine.Apply.
type Record struct {
	UserID                    string     `json:"user_id"`
	Status                    Status     `json:"status"`
	Tier                      Tier       `json:"tier"`
	RemoteCustomerID          string     `json:"remote_customer_id,omitempty"`
	RemoteSubscriptionID      string     `json:"remote_subscription_id,omitempty"`
	CurrentPeriodEnd          *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd         bool       `json:"cancel_at_period_end"`
	PendingCheckoutSessionID  string     `json:"pending_checkout_session_id,omitempty"`
	PendingSince              *time.Time `json:"pending_since,omitempty"`
	LastAppliedEventTimestamp time.Time  `json:"last_applied_event_timestamp"`
	LastUpdated               time.Time  `json:"last_updated"`
	Version                   int64      `json:"version"`
}

// NewRecord returns the zero-state record for a user that has never been written.
func NewRecord(userID string) Record {
	return Record{
		UserID: userID,
		Status: StatusNone,
		Tier:   TierBasic,
	}
}

// Validate checks the record invariants that must hold after every write.
func (r Record) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvariantViolation)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, r.Status)
	}
	if r.Tier != TierFor(r.Status) {
		return fmt.Errorf("%w: tier %q does not match status %q", ErrInvariantViolation, r.Tier, r.Status)
	}
	if r.Status.Entitled() != (r.RemoteSubscriptionID != "") {
		return fmt.Errorf("%w: subscription id binding does not match status %q", ErrInvariantViolation, r.Status)
	}
	if r.CancelAtPeriodEnd && r.Status != StatusCanceling {
		return fmt.Errorf("%w: cancel_at_period_end set while %q", ErrInvariantViolation, r.Status)
	}
	if r.PendingCheckoutSessionID != "" && r.Status != StatusPending {
		return fmt.Errorf("%w: pending session kept while %q", ErrInvariantViolation, r.Status)
	}
	return nil
}

// PendingExpired reports whether a pending checkout has outlived ttl.
func (r Record) PendingExpired(now time.Time, ttl time.Duration) bool {
	if r.Status != StatusPending || r.PendingSince == nil {
		return false
	}
	return now.Sub(*r.PendingSince) > ttl
}

// RemoteState classifies a provider subscription status.
type RemoteState string

const (
	// RemoteLive subscriptions grant access.
	RemoteLive RemoteState = "live"
	// RemoteAwaitingPayment subscriptions exist but the first payment has not settled.
	RemoteAwaitingPayment RemoteState = "awaiting_payment"
	// RemoteEnded subscriptions no longer grant access.
	RemoteEnded RemoteState = "ended"
)

// Snapshot is the provider's current view of one subscription.
type Snapshot struct {
	SubscriptionID    string      `json:"subscription_id"`
	CustomerID        string      `json:"customer_id,omitempty"`
	UserID            string      `json:"user_id,omitempty"`
	RemoteStatus      string      `json:"remote_status"`
	State             RemoteState `json:"state"`
	CurrentPeriodEnd  time.Time   `json:"current_period_end"`
	CancelAtPeriodEnd bool        `json:"cancel_at_period_end"`
}

// Fields is the subscription-derived part of a Record, produced by Project
// and the checkout tracker and consumed by Engine.Apply.
type Fields struct {
	Status                   Status
	RemoteSubscriptionID     string
	CurrentPeriodEnd         *time.Time
	CancelAtPeriodEnd        bool
	PendingCheckoutSessionID string
	// RemoteCustomerID is merged only when non-empty; a known binding is never cleared.
	RemoteCustomerID string
}

// CheckoutIntentRequest is the input of a checkout intent.
type CheckoutIntentRequest struct {
	UserID            string
	ContactIdentifier string
	PlanID            string
}

// CheckoutIntent is the result of a successfully created checkout.
type CheckoutIntent struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	PlanID      string    `json:"plan_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CancelRequest identifies the user whose subscription should stop renewing.
// ContactIdentifier is the fallback for legacy customers that were never tagged.
type CancelRequest struct {
	UserID            string
	ContactIdentifier string
}

// Cancellation is the provider-confirmed result of a cancel request.
type Cancellation struct {
	SubscriptionID    string    `json:"subscription_id"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}
