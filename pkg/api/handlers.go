package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/logger"
)

// Service is the billing surface the handlers call.
type Service interface {
	CreateCheckoutIntent(ctx context.Context, req billing.CheckoutIntentRequest) (*billing.CheckoutIntent, error)
	SyncStatus(ctx context.Context, userID string) (billing.Record, error)
	Cancel(ctx context.Context, req billing.CancelRequest) (*billing.Cancellation, error)
	ReceiveEvent(ctx context.Context, payload []byte, signature string) (*billing.Receipt, error)
	SignatureHeader() string
	ProviderName() string
}

type handlers struct {
	svc           Service
	log           *slog.Logger
	maxEventBytes int64
}

type checkoutIntentRequest struct {
	PlanID            string `json:"planId"`
	UserID            string `json:"userId"`
	ContactIdentifier string `json:"contactIdentifier"`
}

type checkoutIntentResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

func (h *handlers) createCheckoutIntent(w http.ResponseWriter, r *http.Request) {
	var req checkoutIntentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	intent, err := h.svc.CreateCheckoutIntent(r.Context(), billing.CheckoutIntentRequest{
		UserID:            req.UserID,
		ContactIdentifier: req.ContactIdentifier,
		PlanID:            req.PlanID,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutIntentResponse{
		CheckoutURL: intent.CheckoutURL,
		SessionID:   intent.SessionID,
	})
}

type statusRequest struct {
	UserID string `json:"userId"`
}

type statusResponse struct {
	Active            bool       `json:"active"`
	Status            string     `json:"status"`
	Tier              string     `json:"tier"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd"`
}

func (h *handlers) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	rec, err := h.svc.SyncStatus(r.Context(), req.UserID)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Active:            rec.Status.Entitled(),
		Status:            string(rec.Status),
		Tier:              string(rec.Tier),
		CurrentPeriodEnd:  rec.CurrentPeriodEnd,
		CancelAtPeriodEnd: rec.CancelAtPeriodEnd,
	})
}

type cancelRequest struct {
	UserID            string `json:"userId"`
	ContactIdentifier string `json:"contactIdentifier"`
}

type cancelResponse struct {
	SubscriptionID    string    `json:"subscriptionId"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
}

func (h *handlers) subscriptionCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if req.UserID == "" && req.ContactIdentifier == "" {
		writeError(w, r, h.log, billing.ErrMissingField)
		return
	}

	res, err := h.svc.Cancel(r.Context(), billing.CancelRequest{
		UserID:            req.UserID,
		ContactIdentifier: req.ContactIdentifier,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{
		SubscriptionID:    res.SubscriptionID,
		CurrentPeriodEnd:  res.CurrentPeriodEnd,
		CancelAtPeriodEnd: res.CancelAtPeriodEnd,
	})
}

type eventResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Error    string `json:"error,omitempty"`
}

// providerEvent acknowledges every authentic event with 200. Processing
// failures go into the body so the provider does not redeliver.
func (h *handlers) providerEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxEventBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.log, ErrPayloadTooLarge)
			return
		}
		writeError(w, r, h.log, ErrInvalidJSON)
		return
	}

	rcpt, err := h.svc.ReceiveEvent(r.Context(), payload, r.Header.Get(h.svc.SignatureHeader()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	resp := eventResponse{Received: true, EventID: rcpt.EventID, Outcome: string(rcpt.Outcome)}
	if rcpt.Err != nil {
		resp.Error = rcpt.Err.Error()
		h.log.InfoContext(r.Context(), "provider event acknowledged without applying",
			logger.EventID(rcpt.EventID),
			slog.String("outcome", string(rcpt.Outcome)),
			logger.Error(rcpt.Err))
	}
	writeJSON(w, http.StatusOK, resp)
}
