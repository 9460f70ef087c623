package billing

import (
	"context"
	"time"
)

// Fetcher returns the authoritative active subscription of a customer.
type Fetcher struct {
	lister  SubscriptionLister
	timeout time.Duration
}

// NewFetcher returns a Fetcher bounding each listing call by timeout,
// 10s when timeout is not positive. It panics on a nil lister.
func NewFetcher(lister SubscriptionLister, timeout time.Duration) *Fetcher {
	if lister == nil {
		panic("billing: SubscriptionLister is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{lister: lister, timeout: timeout}
}

// FetchActive returns the customer's active subscription or nil when there is none.
// If the provider returns several, the first one is authoritative.
func (f *Fetcher) FetchActive(ctx context.Context, customerID string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	subs, err := f.lister.ListActiveSubscriptions(ctx, customerID, 1)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	if len(subs) == 0 {
		return nil, nil
	}
	snap := subs[0]
	if snap.CustomerID == "" {
		snap.CustomerID = customerID
	}
	return &snap, nil
}
