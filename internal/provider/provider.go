package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured means the provider name is unregistered or its
	// credentials are missing/invalid. Fatal for that provider only.
	ErrNotConfigured = errors.New("payment provider not configured")

	// ErrProvider wraps transport or API failures from the external
	// backend. The order stays pending; the caller may retry.
	ErrProvider = errors.New("payment provider error")
)

// Normalized payment-intent status vocabulary. Each provider maps its own
// states onto these before anything else in the system sees them.
const (
	IntentSucceeded  = "succeeded"
	IntentProcessing = "processing"
	IntentFailed     = "failed"
	IntentCancelled  = "cancelled"
)

type IntentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Metadata    map[string]string
	SuccessURL  string
	CancelURL   string
	Description string
}

type Intent struct {
	ProviderIntentID string          `json:"payment_intent_id"`
	ClientSecret     string          `json:"client_secret,omitempty"`
	RedirectURL      string          `json:"redirect_url,omitempty"`
	Status           string          `json:"status"`
	ProviderData     json.RawMessage `json:"provider_data,omitempty"`
}

type IntentStatus struct {
	Status       string          `json:"status"`
	ProviderData json.RawMessage `json:"provider_data,omitempty"`
}

// PaymentProvider abstracts one external payment backend. Implementations
// are stateless HTTP clients; calls never mutate local order state.
type PaymentProvider interface {
	Name() string

	// Enabled reports whether required credentials are present and
	// well-formed. It never returns an error.
	Enabled() bool

	SupportedCurrencies() []string
	PaymentMethods() []string

	// ValidateCurrencySupport reports whether the provider accepts the
	// ISO currency code. Case-insensitive.
	ValidateCurrencySupport(code string) bool

	// ValidateAmountLimits enforces the provider's min/max for a
	// currency. Boundary values are accepted; out-of-range amounts are
	// rejected, never clamped.
	ValidateAmountLimits(amount decimal.Decimal, currency string) bool

	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)

	// GetPaymentStatus is read-only and idempotent; safe to poll.
	GetPaymentStatus(ctx context.Context, intentID string) (*IntentStatus, error)

	// VerifyWebhookSignature checks a webhook payload against the
	// provider's endpoint secret.
	VerifyWebhookSignature(payload []byte, signature string) bool

	// ParseWebhookEvent decodes a verified webhook payload into the
	// normalized event shape.
	ParseWebhookEvent(payload []byte) (*WebhookEvent, error)

	// Info exposes the capability view for the provider catalog.
	// Secrets are masked.
	Info() Info
}

// WebhookEvent is the provider-neutral view of a webhook notification.
// Status uses the normalized intent vocabulary; empty when the event does
// not carry one.
type WebhookEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	IntentID  string `json:"payment_intent_id"`
	Status    string `json:"status,omitempty"`
}

// Info is the catalog view of a provider: capabilities only, secrets
// masked or absent.
type Info struct {
	Name                string          `json:"name"`
	Enabled             bool            `json:"enabled"`
	SupportedCurrencies []string        `json:"supported_currencies"`
	PaymentMethods      []string        `json:"payment_methods"`
	MinAmount           decimal.Decimal `json:"min_amount"`
	MaxAmount           decimal.Decimal `json:"max_amount"`
	KeyHint             string          `json:"key_hint,omitempty"`
}

// MaskSecret renders a credential safe for diagnostics: first 7 characters
// followed by "...", or "(unset)" when empty.
func MaskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 7 {
		return s[:1] + "..."
	}
	return s[:7] + "..."
}

func currencySupported(code string, supported []string) bool {
	for _, c := range supported {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

const defaultRequestTimeout = 10 * time.Second
