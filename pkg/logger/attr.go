package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". A nil error yields an empty Attr, so
// callers can pass it unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the local user id.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// CustomerID records the billing provider's customer id.
func CustomerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("customer_id", id)
}

// SubscriptionID records the billing provider's subscription id.
func SubscriptionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("subscription_id", id)
}

// CheckoutSessionID records a hosted checkout session id.
func CheckoutSessionID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("checkout_session_id", id)
}

// EventID records a provider event id.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

// EventType records the provider's raw event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Watermark records the causal timestamp of an update.
func Watermark(t time.Time) slog.Attr {
	return slog.Time("watermark", t)
}

// RequestID records the HTTP request id.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
