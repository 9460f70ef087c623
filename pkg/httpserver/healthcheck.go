package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// RunChecks runs every check under a shared timeout and reports each result
// as "ok" or "unavailable". healthy is false when any check failed.
func RunChecks(ctx context.Context, log *slog.Logger, timeout time.Duration, checks ...Check) (results map[string]string, healthy bool) {
	if len(checks) == 0 {
		return nil, true
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results = make(map[string]string, len(checks))
	healthy = true
	for _, c := range checks {
		if err := c.Fn(ctx); err != nil {
			log.ErrorContext(ctx, "readiness check failed",
				slog.String("check", c.Name),
				logger.Error(err))
			results[c.Name] = "unavailable"
			healthy = false
			continue
		}
		results[c.Name] = "ok"
	}
	return results, healthy
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheckHandler reports service health as JSON.
//
// With no checks it is a liveness probe and always answers 200 {"status":"ok"}.
// Otherwise a failing check turns the response into 503 "degraded".
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, healthy := RunChecks(r.Context(), log, timeout, checks...)
		resp := healthResponse{Status: "ok", Checks: results}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		WriteHealth(w, code, resp)
	}
}

// WriteHealth writes a non-cacheable JSON health body.
func WriteHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
