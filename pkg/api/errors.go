package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// HTTPError is a status code plus a stable machine-readable key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string { return e.Key }

var (
	ErrInvalidJSON       = HTTPError{Code: http.StatusBadRequest, Key: "invalid_json"}
	ErrPayloadTooLarge   = HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "payload_too_large"}
	ErrRouteNotFound     = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrMethodNotAllowed  = HTTPError{Code: http.StatusMethodNotAllowed, Key: "method_not_allowed"}
	ErrInternal          = HTTPError{Code: http.StatusInternalServerError, Key: "internal_error"}
	errInvalidPlan       = HTTPError{Code: http.StatusBadRequest, Key: "invalid_plan"}
	errMissingField      = HTTPError{Code: http.StatusBadRequest, Key: "missing_field"}
	errValidation        = HTTPError{Code: http.StatusBadRequest, Key: "validation_failed"}
	errInvalidSignature  = HTTPError{Code: http.StatusBadRequest, Key: "invalid_signature"}
	errAlreadySubscribed = HTTPError{Code: http.StatusConflict, Key: "already_subscribed"}
	errUserNotFound      = HTTPError{Code: http.StatusNotFound, Key: "user_not_found"}
	errNoSubscription    = HTTPError{Code: http.StatusNotFound, Key: "no_active_subscription"}
	errNotFound          = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	errStoreUnavailable  = HTTPError{Code: http.StatusInternalServerError, Key: "store_unavailable"}
	errUpstream          = HTTPError{Code: http.StatusBadGateway, Key: "provider_unavailable"}
	errTimeout           = HTTPError{Code: http.StatusGatewayTimeout, Key: "timeout"}
	errConflictExhausted = HTTPError{Code: http.StatusServiceUnavailable, Key: "busy"}
)

// toHTTPError maps a service error onto the response taxonomy. Specific
// errors are checked before the category they wrap.
func toHTTPError(err error) HTTPError {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, billing.ErrInvalidPlan):
		return errInvalidPlan
	case errors.Is(err, billing.ErrMissingField):
		return errMissingField
	case errors.Is(err, billing.ErrValidation):
		return errValidation
	case errors.Is(err, billing.ErrAuthenticity):
		return errInvalidSignature
	case errors.Is(err, billing.ErrAlreadySubscribed):
		return errAlreadySubscribed
	case errors.Is(err, billing.ErrUserNotFound):
		return errUserNotFound
	case errors.Is(err, billing.ErrNoActiveSubscription), errors.Is(err, billing.ErrCustomerNotFound):
		return errNoSubscription
	case errors.Is(err, billing.ErrNotFound):
		return errNotFound
	case errors.Is(err, billing.ErrStoreUnavailable):
		return errStoreUnavailable
	case errors.Is(err, billing.ErrUpstream):
		return errUpstream
	case errors.Is(err, billing.ErrConflictRetriesExhausted):
		return errConflictExhausted
	case errors.Is(err, context.DeadlineExceeded):
		return errTimeout
	default:
		return ErrInternal
	}
}
