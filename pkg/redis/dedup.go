package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// EventDeduplicator shares claimed provider event ids across replicas.
// A claim is a SET NX with a TTL; releasing deletes the key.
type EventDeduplicator struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewEventDeduplicator returns a billing.EventDeduplicator backed by client.
func NewEventDeduplicator(client redis.UniversalClient, cfg Config) *EventDeduplicator {
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &EventDeduplicator{client: client, ttl: ttl, prefix: cfg.DedupPrefix}
}

func (d *EventDeduplicator) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := d.client.SetNX(ctx, d.prefix+eventID, time.Now().UTC().Unix(), d.ttl).Result()
	if err != nil {
		return false, errors.Join(ErrDedupUnavailable, err)
	}
	return ok, nil
}

func (d *EventDeduplicator) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return errors.Join(ErrDedupUnavailable, err)
	}
	return nil
}

var _ billing.EventDeduplicator = (*EventDeduplicator)(nil)

// Healthcheck reports whether claims can currently be recorded. The service
// keeps working without Redis, so a failure here only degrades /health.
func (d *EventDeduplicator) Healthcheck(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrHealthcheckFailed, ErrDedupUnavailable, err)
	}
	return nil
}
