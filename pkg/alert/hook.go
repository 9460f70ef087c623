package alert

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/queue"
)

// maxPayloadExcerpt caps how much of a dead letter payload goes into an alert.
const maxPayloadExcerpt = 2048

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// DeadLetterHook notifies operators about every dead-lettered task.
// Delivery failures are logged and never block the queue.
func DeadLetterHook(n Notifier, log *slog.Logger) queue.DeadLetterHook {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, dl queue.DeadLetter) {
		if err := n.Notify(ctx, DeadLetterMessage(dl)); err != nil {
			log.ErrorContext(ctx, "failed to send dead letter alert",
				slog.String("dead_letter_id", dl.ID.String()),
				logger.Error(err))
		}
	}
}

// DeadLetterMessage renders a dead letter as a plain-text alert.
func DeadLetterMessage(dl queue.DeadLetter) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %q on queue %q was moved to the dead letter queue.\n\n", dl.Name, dl.Queue)
	fmt.Fprintf(&b, "Dead letter: %s\n", dl.ID)
	fmt.Fprintf(&b, "Task:        %s\n", dl.TaskID)
	fmt.Fprintf(&b, "Attempts:    %d\n", dl.Attempts)
	fmt.Fprintf(&b, "Failed at:   %s\n", dl.FailedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Error:       %s\n", dl.Error)
	if len(dl.Payload) > 0 {
		fmt.Fprintf(&b, "\nPayload:\n%s\n", payloadExcerpt(dl.Payload))
	}

	return Message{
		Subject: fmt.Sprintf("[subsync] dead letter: %s", dl.Name),
		Body:    b.String(),
	}
}

// payloadExcerpt redacts email addresses and cuts the payload at a rune
// boundary no later than maxPayloadExcerpt bytes.
func payloadExcerpt(raw []byte) string {
	payload := emailPattern.ReplaceAllString(strings.ToValidUTF8(string(raw), "\uFFFD"), "[redacted]")
	if len(payload) <= maxPayloadExcerpt {
		return payload
	}
	cut := maxPayloadExcerpt
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return payload[:cut] + "..."
}
