package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	assert.True(t, logger.Error(nil).Equal(slog.Attr{}))
}

func TestIdentifierAttrs(t *testing.T) {
	tests := []struct {
		name string
		attr slog.Attr
		key  string
	}{
		{"user", logger.UserID("u1"), "user_id"},
		{"customer", logger.CustomerID("cus_1"), "customer_id"},
		{"subscription", logger.SubscriptionID("sub_1"), "subscription_id"},
		{"checkout", logger.CheckoutSessionID("cs_1"), "checkout_session_id"},
		{"event", logger.EventID("evt_1"), "event_id"},
		{"request", logger.RequestID("req_1"), "request_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.attr.Key)
			assert.NotEmpty(t, tt.attr.Value.String())
		})
	}

	assert.True(t, logger.UserID("").Equal(slog.Attr{}))
	assert.True(t, logger.EventID("").Equal(slog.Attr{}))
}

func TestWatermark(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	attr := logger.Watermark(ts)
	assert.Equal(t, "watermark", attr.Key)
	assert.Equal(t, ts, attr.Value.Time())
}
