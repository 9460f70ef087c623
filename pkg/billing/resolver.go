package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Resolver maps local user ids to remote customers.
type Resolver struct {
	directory CustomerDirectory
	store     RecordStore
	timeout   time.Duration
}

// NewResolver creates a resolver. store may be nil, in which case the cached
// binding on the record is not consulted.
func NewResolver(directory CustomerDirectory, store RecordStore, timeout time.Duration) *Resolver {
	if directory == nil {
		panic("billing: CustomerDirectory is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{directory: directory, store: store, timeout: timeout}
}

// Resolve returns the customer bound to userID: the binding cached on the
// record first, then a metadata search at the provider.
// Returns ErrCustomerNotFound when neither yields a customer.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id", ErrMissingField)
	}

	if id := r.cached(ctx, userID); id != "" {
		return id, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := r.directory.FindCustomerByUserID(ctx, userID)
	if err != nil {
		return "", wrapProviderError(err)
	}
	return id, nil
}

// ResolveForCancel resolves by user id and falls back to the contact email for
// customers created before metadata tagging existed.
func (r *Resolver) ResolveForCancel(ctx context.Context, userID, email string) (string, error) {
	if userID == "" && email == "" {
		return "", fmt.Errorf("%w: user id or contact identifier", ErrMissingField)
	}

	if userID != "" {
		id, err := r.Resolve(ctx, userID)
		if err == nil || !errors.Is(err, ErrCustomerNotFound) || email == "" {
			return id, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err := r.directory.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", wrapProviderError(err)
	}
	return id, nil
}

func (r *Resolver) cached(ctx context.Context, userID string) string {
	if r.store == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rec, err := r.store.Get(ctx, userID)
	if err != nil {
		return ""
	}
	return rec.RemoteCustomerID
}

// wrapProviderError keeps domain errors intact and tags everything else as upstream.
func wrapProviderError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrUpstream) {
		return err
	}
	return errors.Join(ErrProviderUnavailable, err)
}
