package billing

import "time"

// EventKind is the closed set of event classes the service reacts to.
type EventKind string

const (
	EventSubscriptionCreated EventKind = "subscription.created"
	EventSubscriptionUpdated EventKind = "subscription.updated"
	EventSubscriptionDeleted EventKind = "subscription.deleted"
	EventUnhandled           EventKind = "unhandled"
)

// Event is a verified, classified provider event.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	Provider     string    `json:"provider"`
	ProviderType string    `json:"provider_type"`
	OccurredAt   time.Time `json:"occurred_at"`
	// Subscription is nil for unhandled events.
	Subscription *Snapshot `json:"subscription,omitempty"`
	// Raw is kept for operator inspection of events that failed to apply.
	Raw []byte `json:"raw,omitempty"`
}

// Outcome describes what happened to an event.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeStale          Outcome = "stale"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeUnattributable Outcome = "unattributable"
	OutcomeFailed         Outcome = "failed"
)

// Receipt is returned for every authentic event.
// Err is set for outcomes that were acknowledged but not applied.
type Receipt struct {
	EventID string
	Kind    EventKind
	Outcome Outcome
	Err     error
}
