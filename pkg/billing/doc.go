// Package billing keeps a local, per-user view of a paid subscription in sync
// with a billing provider (Stripe or Paddle).
//
// Changes reach the local record from three sources: provider events pushed to
// the service, status checks that pull the provider's current view, and
// checkout intents started by the user. All three go through Engine.Apply,
// the single write path. Each update carries a watermark, the causal time of
// its information, and is dropped as stale when the stored record already
// reflects something newer. Writes are compare-and-swap on the record
// version, so concurrent writers for one user need no lock.
//
// # Architecture
//
//   - Resolver: maps a user id to a provider customer (cached binding, then
//     metadata search, then contact email for cancellation)
//   - Fetcher: returns the single authoritative active subscription or nil
//   - Project: pure mapping from a provider Snapshot to record Fields
//   - Engine: watermark check, transition table, guards, invariants, CAS
//   - CheckoutTracker: plan allow-list, customer tagging, pending intents
//   - Gateway: signature verification and event classification
//   - Service: the operations exposed over HTTP, plus event dedup and
//     durable retry of events that could not be applied inline
//
// # Record invariants
//
// Tier is pro exactly when Status is active or canceling. A subscription id
// is bound exactly when Status is active or canceling. CancelAtPeriodEnd is
// only set while canceling. The watermark of a record never decreases.
//
// # Failures
//
// Errors are grouped by category (ErrValidation, ErrNotFound, ErrUpstream,
// ErrAuthenticity) so transports can map them with errors.Is. ErrStaleEvent
// and ErrEventSuperseded are benign; see IsBenign. Events that could not be
// applied are handed to a FailureSink; QueueFailureSink stores them in the
// task queue and NewEventRetryHandler re-applies them in the background.
package billing
