package billing

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// EventDeduplicator remembers event ids that are being or have been applied.
// It only saves work: application is idempotent without it.
type EventDeduplicator interface {
	// Claim returns false when eventID was already claimed and not released.
	Claim(ctx context.Context, eventID string) (bool, error)
	// Release forgets eventID so a redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

// MemoryDeduplicator is an in-process EventDeduplicator with expiring entries.
type MemoryDeduplicator struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDeduplicator returns a deduplicator that remembers claimed event
// ids for ttl, 72h when ttl is not positive.
func NewMemoryDeduplicator(ttl time.Duration) *MemoryDeduplicator {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &MemoryDeduplicator{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

// Claim reports true for the first claim of eventID within the ttl and false
// for repeats. Expired entries are swept on every call.
func (d *MemoryDeduplicator) Claim(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.seen[eventID]; ok && now.Before(exp) {
		return false, nil
	}
	d.seen[eventID] = now.Add(d.ttl)

	for id, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, id)
		}
	}
	return true, nil
}

// Release forgets eventID so a redelivery can be claimed again.
func (d *MemoryDeduplicator) Release(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}

// claim fails open: a broken deduplicator must not block event application.
func (s *Service) claim(ctx context.Context, eventID string) bool {
	if s.dedup == nil || eventID == "" {
		return true
	}
	ok, err := s.dedup.Claim(ctx, eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "event dedup unavailable", logger.EventID(eventID), logger.Error(err))
		return true
	}
	return ok
}

func (s *Service) release(ctx context.Context, eventID string) {
	if s.dedup == nil || eventID == "" {
		return
	}
	if err := s.dedup.Release(context.WithoutCancel(ctx), eventID); err != nil {
		s.logger.WarnContext(ctx, "event dedup release failed", logger.EventID(eventID), logger.Error(err))
	}
}
