package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mindcare/internal/config"
)

const NameStripe = "stripe"

const stripeAPIBase = "https://api.stripe.com"

// Stripe per-currency minimum charge amounts. The maximum is the same for
// every supported currency.
var stripeMinimums = map[string]decimal.Decimal{
	"USD": decimal.RequireFromString("0.50"),
	"EUR": decimal.RequireFromString("0.50"),
	"GBP": decimal.RequireFromString("0.30"),
}

var stripeMaximum = decimal.RequireFromString("999999.99")

type Stripe struct {
	creds      config.ProviderCredentials
	currencies []string
	baseURL    string
	client     *http.Client
	log        *zap.Logger
	enabled    bool
}

func NewStripe(creds config.ProviderCredentials, currencies []string, log *zap.Logger) *Stripe {
	s := &Stripe{
		creds:      creds,
		currencies: currencies,
		baseURL:    stripeAPIBase,
		client:     &http.Client{Timeout: defaultRequestTimeout},
		log:        log,
	}
	s.enabled = creds.Enabled && s.validateCredentials() == nil
	return s
}

func (s *Stripe) validateCredentials() error {
	if s.creds.SecretKey == "" || s.creds.PublishableKey == "" || s.creds.WebhookSecret == "" {
		return fmt.Errorf("%w: stripe credentials incomplete", ErrNotConfigured)
	}
	if !strings.HasPrefix(s.creds.SecretKey, "sk_test_") && !strings.HasPrefix(s.creds.SecretKey, "sk_live_") {
		return fmt.Errorf("%w: invalid stripe secret key format (%s)", ErrNotConfigured, MaskSecret(s.creds.SecretKey))
	}
	if !strings.HasPrefix(s.creds.PublishableKey, "pk_test_") && !strings.HasPrefix(s.creds.PublishableKey, "pk_live_") {
		return fmt.Errorf("%w: invalid stripe publishable key format (%s)", ErrNotConfigured, MaskSecret(s.creds.PublishableKey))
	}
	// Test and live keys must not be mixed.
	if strings.HasPrefix(s.creds.SecretKey, "sk_test_") != strings.HasPrefix(s.creds.PublishableKey, "pk_test_") {
		return fmt.Errorf("%w: stripe secret and publishable keys must both be test or live", ErrNotConfigured)
	}
	return nil
}

func (s *Stripe) Name() string { return NameStripe }

func (s *Stripe) Enabled() bool { return s.enabled }

func (s *Stripe) SupportedCurrencies() []string {
	out := make([]string, len(s.currencies))
	copy(out, s.currencies)
	return out
}

func (s *Stripe) PaymentMethods() []string { return []string{"card"} }

func (s *Stripe) ValidateCurrencySupport(code string) bool {
	return currencySupported(code, s.currencies)
}

func (s *Stripe) ValidateAmountLimits(amount decimal.Decimal, currency string) bool {
	minimum, ok := stripeMinimums[strings.ToUpper(currency)]
	if !ok {
		minimum = decimal.RequireFromString("0.50")
	}
	return amount.GreaterThanOrEqual(minimum) && amount.LessThanOrEqual(stripeMaximum)
}

type stripeIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Error        *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *Stripe) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if !s.ValidateCurrencySupport(req.Currency) {
		return nil, fmt.Errorf("%w: currency %s not supported by stripe", ErrProvider, req.Currency)
	}
	if !s.ValidateAmountLimits(req.Amount, req.Currency) {
		return nil, fmt.Errorf("%w: amount %s %s outside stripe limits", ErrProvider, req.Amount, req.Currency)
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorUnits(req.Amount, req.Currency), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("capture_method", "automatic")
	form.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	body, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	var res stripeIntentResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode stripe response: %v", ErrProvider, err)
	}

	s.log.Info("stripe payment intent created",
		zap.String("intent_id", res.ID),
		zap.String("status", res.Status),
		zap.String("currency", req.Currency),
	)

	return &Intent{
		ProviderIntentID: res.ID,
		ClientSecret:     res.ClientSecret,
		Status:           mapStripeStatus(res.Status),
		ProviderData:     body,
	}, nil
}

func (s *Stripe) GetPaymentStatus(ctx context.Context, intentID string) (*IntentStatus, error) {
	body, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, err
	}

	var res stripeIntentResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode stripe response: %v", ErrProvider, err)
	}

	return &IntentStatus{
		Status:       mapStripeStatus(res.Status),
		ProviderData: body,
	}, nil
}

// VerifyWebhookSignature checks an HMAC-SHA256 hex signature of the raw
// payload. A leading "v1=" scheme prefix is tolerated.
func (s *Stripe) VerifyWebhookSignature(payload []byte, signature string) bool {
	if s.creds.WebhookSecret == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "v1=")

	mac := hmac.New(sha256.New, []byte(s.creds.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

type stripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (s *Stripe) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: decode stripe webhook: %v", ErrProvider, err)
	}

	event := &WebhookEvent{
		EventID:   evt.ID,
		EventType: evt.Type,
		IntentID:  evt.Data.Object.ID,
	}

	switch evt.Type {
	case "payment_intent.succeeded":
		event.Status = IntentSucceeded
	case "payment_intent.payment_failed":
		event.Status = IntentFailed
	case "payment_intent.canceled":
		event.Status = IntentCancelled
	default:
		event.Status = mapStripeStatus(evt.Data.Object.Status)
	}

	return event, nil
}

func (s *Stripe) Info() Info {
	return Info{
		Name:                NameStripe,
		Enabled:             s.enabled,
		SupportedCurrencies: s.SupportedCurrencies(),
		PaymentMethods:      s.PaymentMethods(),
		MinAmount:           stripeMinimums["USD"],
		MaxAmount:           stripeMaximum,
		KeyHint:             MaskSecret(s.creds.PublishableKey),
	}
}

func (s *Stripe) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrProvider, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.creds.SecretKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe request failed: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read stripe response: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		var res stripeIntentResponse
		if err := json.Unmarshal(data, &res); err == nil && res.Error != nil {
			return nil, fmt.Errorf("%w: stripe %s: %s", ErrProvider, res.Error.Type, res.Error.Message)
		}
		return nil, fmt.Errorf("%w: stripe returned status %d", ErrProvider, resp.StatusCode)
	}

	return data, nil
}

func mapStripeStatus(status string) string {
	switch status {
	case "succeeded":
		return IntentSucceeded
	case "requires_payment_method":
		return IntentFailed
	case "canceled":
		return IntentCancelled
	default:
		// requires_confirmation, requires_action, requires_capture,
		// processing and anything unknown stay in flight.
		return IntentProcessing
	}
}

// minorUnits converts a decimal amount to the provider's smallest currency
// unit. Zero-decimal currencies are passed through as-is.
func minorUnits(amount decimal.Decimal, currency string) int64 {
	switch strings.ToUpper(currency) {
	case "JPY", "KRW":
		return amount.IntPart()
	default:
		return amount.Mul(decimal.NewFromInt(100)).IntPart()
	}
}
