package billing

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now. Pull and checkout watermarks come from this clock.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithCheckoutConfig sets redirect URLs and the pending checkout TTL.
// Zero values keep the defaults.
func WithCheckoutConfig(cfg CheckoutConfig) ServiceOption {
	return func(s *Service) {
		if cfg.SuccessURL != "" {
			s.checkout.SuccessURL = cfg.SuccessURL
		}
		if cfg.CancelURL != "" {
			s.checkout.CancelURL = cfg.CancelURL
		}
		if cfg.PendingTTL > 0 {
			s.checkout.PendingTTL = cfg.PendingTTL
		}
	}
}

// WithProviderTimeout bounds every provider call.
func WithProviderTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.providerTimeout = d
		}
	}
}

// WithStoreTimeout bounds every record store call.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithProcessingTimeout bounds inline processing of a pushed event. Events
// that do not finish in time are handed to the FailureSink for retry.
func WithProcessingTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.processingTimeout = d
		}
	}
}

// WithDeduplicator short-circuits redelivered events by id.
func WithDeduplicator(d EventDeduplicator) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.dedup = d
		}
	}
}

// WithFailureSink sets where events that failed to apply are recorded.
func WithFailureSink(f FailureSink) ServiceOption {
	return func(s *Service) {
		if f != nil {
			s.failures = f
		}
	}
}
