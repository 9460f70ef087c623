package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the HTTP server. Zero values and nil hooks leave the
// defaults in place, so every Config field can be passed through unchecked.
type Option func(*config)

func WithAddr(addr string) Option {
	return func(c *config) {
		if addr != "" {
			c.addr = addr
		}
	}
}

// WithReadTimeout bounds reading the whole request, body included. Provider
// event payloads are read under this limit.
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) { setDuration(&c.readTimeout, d) }
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return func(c *config) { setDuration(&c.readHeaderTimeout, d) }
}

// WithWriteTimeout must exceed the per-request handler timeout, otherwise
// slow provider calls are cut off before their 502/504 is written.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { setDuration(&c.writeTimeout, d) }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) { setDuration(&c.idleTimeout, d) }
}

// WithShutdownTimeout bounds draining in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *config) { setDuration(&c.shutdownTimeout, d) }
}

// WithLogger sets the logger for lifecycle messages and net/http errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStartHook runs h once the listener is bound.
func WithStartHook(h func(*slog.Logger)) Option {
	return func(c *config) {
		if h != nil {
			c.startHooks = append(c.startHooks, h)
		}
	}
}

// WithStopHook runs h after shutdown completes.
func WithStopHook(h func(*slog.Logger)) Option {
	return func(c *config) {
		if h != nil {
			c.stopHooks = append(c.stopHooks, h)
		}
	}
}

func setDuration(dst *time.Duration, d time.Duration) {
	if d > 0 {
		*dst = d
	}
}
