package alert

import "errors"

var (
	ErrFailedToSendAlert = errors.New("alert: failed to send")
	ErrInvalidConfig     = errors.New("alert: invalid config")
	ErrInvalidMessage    = errors.New("alert: invalid message")
)
