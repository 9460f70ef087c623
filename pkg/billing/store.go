package billing

import "context"

// RecordStore persists subscription records keyed by user id.
// Implementations must make CompareAndSwap atomic; no other write path exists.
type RecordStore interface {
	// Get returns the record for userID or ErrRecordNotFound.
	Get(ctx context.Context, userID string) (*Record, error)

	// CompareAndSwap stores next only if the stored version equals
	// expectedVersion. An expectedVersion of 0 means the record must not exist
	// yet. Returns ErrVersionConflict when the condition does not hold.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next Record) error
}
