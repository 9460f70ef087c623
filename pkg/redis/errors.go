package redis

import "errors"

var (
	// ErrDisabled is returned by Connect when no REDIS_URL is configured.
	ErrDisabled          = errors.New("redis: no connection url configured")
	ErrInvalidURL        = errors.New("redis: invalid connection url")
	ErrNotReady          = errors.New("redis: server did not answer ping in time")
	ErrHealthcheckFailed = errors.New("redis: healthcheck failed")
	// ErrDedupUnavailable wraps every deduplicator failure; callers fail open on it.
	ErrDedupUnavailable = errors.New("redis: event deduplication unavailable")
)
