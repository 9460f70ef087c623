package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Message is a plain-text operator alert.
type Message struct {
	Subject string
	Body    string
	Tag     string
}

func (m Message) Validate() error {
	if m.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidMessage)
	}
	if m.Body == "" {
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}

// New returns a PostmarkNotifier when cfg enables email delivery and a
// LogNotifier otherwise.
func New(cfg Config, logger *slog.Logger) (Notifier, error) {
	if !cfg.Enabled() {
		return NewLogNotifier(logger), nil
	}
	return NewPostmarkNotifier(cfg)
}

func validAddress(addr string) bool {
	_, err := mail.ParseAddress(addr)
	return err == nil
}
