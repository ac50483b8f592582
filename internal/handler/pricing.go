package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"mindcare/internal/pricing"
	"mindcare/internal/provider"
)

type pricingResponse struct {
	Rates      map[string]decimal.Decimal   `json:"rates"`
	Breakdowns map[string]pricing.Breakdown `json:"breakdowns"`
	Currency   string                       `json:"currency"`
}

// PricingHandler exposes the service rates and, per service, what the
// total comes to once provider and platform fees are added.
func PricingHandler(pricingSvc *pricing.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rates := pricingSvc.AllServicePrices()

		breakdowns := make(map[string]pricing.Breakdown, len(rates))
		for tag, rate := range rates {
			breakdowns[tag] = pricingSvc.TotalWithFees(rate)
		}

		writeJSON(w, http.StatusOK, pricingResponse{
			Rates:      rates,
			Breakdowns: breakdowns,
			Currency:   defaultCurrency,
		})
	}
}

type providersResponse struct {
	Providers []provider.Info `json:"providers"`
	Default   string          `json:"default,omitempty"`
}

// ProvidersHandler exposes the payment provider catalog: capabilities
// and limits only, credentials masked.
func ProvidersHandler(registry *provider.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := providersResponse{Providers: registry.Catalog()}
		if def, err := registry.Default(); err == nil {
			resp.Default = def.Name()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
