package api

import (
	"net/http"

	"github.com/dmitrymomot/subsync/pkg/httpserver"
)

type healthResponse struct {
	Status             string            `json:"status"`
	Provider           string            `json:"provider,omitempty"`
	Store              string            `json:"store,omitempty"`
	ProviderConfigured bool              `json:"providerConfigured"`
	StoreConfigured    bool              `json:"storeConfigured"`
	Checks             map[string]string `json:"checks,omitempty"`
}

func healthHandler(svc Service, o *options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, healthy := httpserver.RunChecks(r.Context(), o.logger, o.healthTimeout, o.checks...)

		resp := healthResponse{
			Status:             "ok",
			Provider:           svc.ProviderName(),
			Store:              o.storeName,
			ProviderConfigured: svc.ProviderName() != "",
			StoreConfigured:    o.storeName != "",
			Checks:             results,
		}
		code := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		httpserver.WriteHealth(w, code, resp)
	}
}
