package alert

import (
	"context"
	"log/slog"
)

// LogNotifier writes alerts to the log. Used when no mail transport is set up.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	n.logger.WarnContext(ctx, msg.Subject,
		slog.String("alert_tag", msg.Tag),
		slog.String("alert_body", msg.Body))
	return nil
}
