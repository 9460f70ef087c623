package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

type postmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkNotifier emails alerts through Postmark.
type PostmarkNotifier struct {
	client postmarkSender
	config Config
}

// NewPostmarkNotifier validates cfg and creates a Postmark-backed notifier.
func NewPostmarkNotifier(cfg Config) (*PostmarkNotifier, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: PostmarkServerToken is required", ErrInvalidConfig)
	}
	if !validAddress(cfg.SenderEmail) {
		return nil, fmt.Errorf("%w: SenderEmail must be a valid email address", ErrInvalidConfig)
	}
	if !validAddress(cfg.RecipientEmail) {
		return nil, fmt.Errorf("%w: RecipientEmail must be a valid email address", ErrInvalidConfig)
	}

	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

func (n *PostmarkNotifier) Notify(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	tag := msg.Tag
	if tag == "" {
		tag = n.config.Tag
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.config.SenderEmail,
		To:       n.config.RecipientEmail,
		Subject:  msg.Subject,
		Tag:      tag,
		TextBody: msg.Body,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendAlert, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendAlert,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
