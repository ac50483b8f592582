package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mindcare/internal/provider"
	"mindcare/internal/service"
)

const maxWebhookBody = 64 << 10

type initiatePaymentRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// InitiatePaymentHandler creates a provider payment intent for the {id}
// order and returns the client-side handle (client secret or redirect
// URL, depending on the provider).
func InitiatePaymentHandler(orderSvc *service.OrderService, paymentSvc *service.PaymentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := ownedOrder(w, r, orderSvc)
		if !ok {
			return
		}

		var req initiatePaymentRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		result, err := paymentSvc.InitiatePayment(r.Context(), order.ID, req.SuccessURL, req.CancelURL)
		if err != nil {
			writePaymentError(w, err, log)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

// PaymentStatusHandler polls the provider for the order's latest payment
// attempt and applies the result. Idempotent.
func PaymentStatusHandler(orderSvc *service.OrderService, paymentSvc *service.PaymentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := ownedOrder(w, r, orderSvc)
		if !ok {
			return
		}

		result, err := paymentSvc.CheckPaymentStatus(r.Context(), order.ID)
		if err != nil {
			writePaymentError(w, err, log)
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// WebhookHandler receives provider notifications. The signature is
// verified over the raw body before anything is parsed. Providers retry
// on non-2xx, so only real processing failures return errors.
func WebhookHandler(paymentSvc *service.PaymentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerName := chi.URLParam(r, "provider")

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		result, err := paymentSvc.ProcessWebhook(r.Context(), providerName, payload, webhookSignature(r, providerName))
		if err != nil {
			switch {
			case errors.Is(err, provider.ErrNotConfigured):
				http.Error(w, "unknown provider", http.StatusNotFound)
			case errors.Is(err, service.ErrConfirmationConflict):
				// Acknowledged but not applied; a retry will not help.
				http.Error(w, "order already finalized", http.StatusConflict)
			case errors.Is(err, service.ErrOrderNotFound):
				http.Error(w, "unknown payment intent", http.StatusNotFound)
			case errors.Is(err, provider.ErrProvider):
				log.Warn("webhook rejected", zap.String("provider", providerName), zap.Error(err))
				http.Error(w, "invalid webhook", http.StatusBadRequest)
			default:
				log.Error("webhook processing failed", zap.String("provider", providerName), zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

func webhookSignature(r *http.Request, providerName string) string {
	switch providerName {
	case provider.NameStripe:
		if sig := r.Header.Get("Stripe-Signature"); sig != "" {
			return sig
		}
	case provider.NamePayPal:
		if sig := r.Header.Get("Paypal-Transmission-Sig"); sig != "" {
			return sig
		}
	}
	return r.Header.Get("X-Webhook-Signature")
}

func writePaymentError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		http.Error(w, "order or payment not found", http.StatusNotFound)
	case errors.Is(err, service.ErrOrderNotPayable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrConfirmationConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, provider.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, provider.ErrProvider):
		log.Error("payment provider call failed", zap.Error(err))
		http.Error(w, "payment provider unavailable", http.StatusBadGateway)
	default:
		log.Error("payment operation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
