package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/subsync/pkg/httpserver"
)

// Option configures the router.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	requestTimeout time.Duration
	maxEventBytes  int64
	healthTimeout  time.Duration
	checks         []httpserver.Check
	storeName      string
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRequestTimeout bounds the billing endpoints. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithMaxEventBytes caps the size of provider event payloads.
func WithMaxEventBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEventBytes = n
		}
	}
}

// WithHealthChecks adds dependency probes to GET /health.
func WithHealthChecks(checks ...httpserver.Check) Option {
	return func(o *options) { o.checks = append(o.checks, checks...) }
}

// WithStoreName reports the configured record store in GET /health.
func WithStoreName(name string) Option {
	return func(o *options) { o.storeName = name }
}

// NewRouter mounts the billing endpoints and the health endpoint.
func NewRouter(svc Service, opts ...Option) http.Handler {
	o := &options{
		logger:         slog.Default(),
		requestTimeout: 25 * time.Second,
		maxEventBytes:  1 << 20,
		healthTimeout:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	h := &handlers{svc: svc, log: o.logger, maxEventBytes: o.maxEventBytes}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(o.logger))
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ErrRouteNotFound.Code, errorResponse{Error: ErrRouteNotFound.Key})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, ErrMethodNotAllowed.Code, errorResponse{Error: ErrMethodNotAllowed.Key})
	})

	r.Get("/health", healthHandler(svc, o))

	r.Group(func(r chi.Router) {
		r.Use(Timeout(o.requestTimeout))
		r.Post("/checkout-intents", h.createCheckoutIntent)
		r.Post("/subscription-status", h.subscriptionStatus)
		r.Post("/subscription-cancel", h.subscriptionCancel)
		r.Post("/provider-events", h.providerEvent)
	})

	return r
}
