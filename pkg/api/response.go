package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// maxJSONBodyBytes caps request bodies of the JSON endpoints.
const maxJSONBodyBytes = 64 << 10

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError logs server-side failures and renders the error key. Messages
// of 5xx responses are not exposed to callers.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	he := toHTTPError(err)
	resp := errorResponse{Error: he.Key}
	if he.Code < http.StatusInternalServerError {
		if he.Error() != err.Error() {
			resp.Message = err.Error()
		}
		log.DebugContext(r.Context(), "request rejected",
			slog.String("path", r.URL.Path),
			slog.String("error_key", he.Key),
			logger.Error(err))
	} else {
		log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error_key", he.Key),
			logger.Error(err))
	}
	writeJSON(w, he.Code, resp)
}

// decodeJSON reads a bounded JSON body into v. An empty body decodes as {}.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	err := json.NewDecoder(body).Decode(v)

	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return ErrPayloadTooLarge
	default:
		return ErrInvalidJSON
	}
}
