package billing

import (
	"errors"
	"fmt"
)

// Error categories. Concrete errors below wrap one of these so callers can
// map by category with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUpstream     = errors.New("upstream dependency failed")
	ErrAuthenticity = errors.New("event authenticity check failed")
)

var (
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrValidation)
	ErrInvalidPlan  = fmt.Errorf("%w: plan is not offered", ErrValidation)

	ErrUserNotFound         = fmt.Errorf("%w: user has no subscription record", ErrNotFound)
	ErrCustomerNotFound     = fmt.Errorf("%w: no billing customer bound to user", ErrNotFound)
	ErrNoActiveSubscription = fmt.Errorf("%w: no active subscription", ErrNotFound)
	ErrRecordNotFound       = fmt.Errorf("%w: subscription record", ErrNotFound)
	ErrCheckoutNotFound     = fmt.Errorf("%w: checkout session for subscription", ErrNotFound)

	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrAuthenticity)

	ErrProviderUnavailable = fmt.Errorf("%w: billing provider", ErrUpstream)
	ErrStoreUnavailable    = fmt.Errorf("%w: record store", ErrUpstream)
	ErrNoCheckoutURL       = fmt.Errorf("%w: no checkout URL returned from provider", ErrUpstream)
)

var (
	// ErrStaleEvent is returned when an update's watermark is older than the
	// stored one. Callers treat it as success.
	ErrStaleEvent = errors.New("update is older than the applied state")
	// ErrEventSuperseded is returned when an update refers to a subscription
	// other than the one currently bound to the user. Callers treat it as success.
	ErrEventSuperseded = errors.New("update refers to a superseded subscription")

	ErrUnattributable   = errors.New("event cannot be attributed to a user")
	ErrMalformedEvent   = errors.New("event payload is malformed")
	ErrUnknownEventKind = errors.New("unknown event kind")

	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrAlreadySubscribed        = errors.New("user already has an active subscription")
	ErrVersionConflict          = errors.New("record version conflict")
	ErrConflictRetriesExhausted = errors.New("record kept changing during update")
	ErrInvariantViolation       = errors.New("record invariant violated")

	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load plans")

	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrUnknownProvider            = errors.New("unknown billing provider")
)

// IsBenign reports whether err is an outcome that callers acknowledge as success.
func IsBenign(err error) bool {
	return errors.Is(err, ErrStaleEvent) || errors.Is(err, ErrEventSuperseded)
}
