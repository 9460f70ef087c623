package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []postmark.Email
	resp postmark.EmailResponse
	err  error
}

func (f *fakeSender) SendEmail(_ context.Context, email postmark.Email) (postmark.EmailResponse, error) {
	f.sent = append(f.sent, email)
	return f.resp, f.err
}

func validConfig() Config {
	return Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "alerts@example.com",
		RecipientEmail:      "ops@example.com",
		Tag:                 "dead-letter",
	}
}

func TestNewPostmarkNotifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing token", mutate: func(c *Config) { c.PostmarkServerToken = "" }, wantErr: "PostmarkServerToken is required"},
		{name: "bad sender", mutate: func(c *Config) { c.SenderEmail = "nope" }, wantErr: "SenderEmail"},
		{name: "bad recipient", mutate: func(c *Config) { c.RecipientEmail = "" }, wantErr: "RecipientEmail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			n, err := NewPostmarkNotifier(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotNil(t, n)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostmarkNotifier_Notify(t *testing.T) {
	t.Parallel()

	t.Run("sends plain text email", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{}
		n := &PostmarkNotifier{client: sender, config: validConfig()}

		require.NoError(t, n.Notify(context.Background(), Message{Subject: "s", Body: "b"}))
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "alerts@example.com", sender.sent[0].From)
		assert.Equal(t, "ops@example.com", sender.sent[0].To)
		assert.Equal(t, "b", sender.sent[0].TextBody)
		assert.Equal(t, "dead-letter", sender.sent[0].Tag)
	})

	t.Run("postmark error code", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{resp: postmark.EmailResponse{ErrorCode: 300, Message: "Invalid email request"}}
		n := &PostmarkNotifier{client: sender, config: validConfig()}

		err := n.Notify(context.Background(), Message{Subject: "s", Body: "b"})
		assert.ErrorIs(t, err, ErrFailedToSendAlert)
		assert.Contains(t, err.Error(), "300")
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{err: errors.New("connection refused")}
		n := &PostmarkNotifier{client: sender, config: validConfig()}

		assert.ErrorIs(t, n.Notify(context.Background(), Message{Subject: "s", Body: "b"}), ErrFailedToSendAlert)
	})

	t.Run("invalid message is not sent", func(t *testing.T) {
		t.Parallel()
		sender := &fakeSender{}
		n := &PostmarkNotifier{client: sender, config: validConfig()}

		assert.ErrorIs(t, n.Notify(context.Background(), Message{Body: "b"}), ErrInvalidMessage)
		assert.Empty(t, sender.sent)
	})
}
