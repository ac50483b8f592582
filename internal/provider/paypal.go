package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mindcare/internal/config"
)

const NamePayPal = "paypal"

const paypalAPIBase = "https://api-m.paypal.com"

var (
	paypalMinimum = decimal.RequireFromString("1.00")
	paypalMaximum = decimal.RequireFromString("60000.00")
)

// PayPal drives the checkout-orders API. An "order" on the PayPal side
// plays the role of a payment intent here.
type PayPal struct {
	creds      config.ProviderCredentials
	currencies []string
	baseURL    string
	client     *http.Client
	log        *zap.Logger
	enabled    bool
}

func NewPayPal(creds config.ProviderCredentials, currencies []string, log *zap.Logger) *PayPal {
	p := &PayPal{
		creds:      creds,
		currencies: currencies,
		baseURL:    paypalAPIBase,
		client:     &http.Client{Timeout: defaultRequestTimeout},
		log:        log,
	}
	p.enabled = creds.Enabled && creds.PublishableKey != "" && creds.SecretKey != ""
	return p
}

func (p *PayPal) Name() string { return NamePayPal }

func (p *PayPal) Enabled() bool { return p.enabled }

func (p *PayPal) SupportedCurrencies() []string {
	out := make([]string, len(p.currencies))
	copy(out, p.currencies)
	return out
}

func (p *PayPal) PaymentMethods() []string { return []string{"paypal", "card"} }

func (p *PayPal) ValidateCurrencySupport(code string) bool {
	return currencySupported(code, p.currencies)
}

func (p *PayPal) ValidateAmountLimits(amount decimal.Decimal, currency string) bool {
	return amount.GreaterThanOrEqual(paypalMinimum) && amount.LessThanOrEqual(paypalMaximum)
}

type paypalOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	Message string `json:"message"`
}

func (p *PayPal) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if !p.ValidateCurrencySupport(req.Currency) {
		return nil, fmt.Errorf("%w: currency %s not supported by paypal", ErrProvider, req.Currency)
	}
	if !p.ValidateAmountLimits(req.Amount, req.Currency) {
		return nil, fmt.Errorf("%w: amount %s %s outside paypal limits", ErrProvider, req.Amount, req.Currency)
	}

	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"description": req.Description,
			"custom_id":   req.Metadata["order_id"],
			"amount": map[string]string{
				"currency_code": strings.ToUpper(req.Currency),
				"value":         req.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": req.SuccessURL,
			"cancel_url": req.CancelURL,
		},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode paypal order: %v", ErrProvider, err)
	}

	body, err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	var res paypalOrderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode paypal response: %v", ErrProvider, err)
	}

	approveURL := ""
	for _, link := range res.Links {
		if link.Rel == "approve" {
			approveURL = link.Href
			break
		}
	}

	p.log.Info("paypal order created",
		zap.String("intent_id", res.ID),
		zap.String("status", res.Status),
	)

	return &Intent{
		ProviderIntentID: res.ID,
		RedirectURL:      approveURL,
		Status:           mapPayPalStatus(res.Status),
		ProviderData:     body,
	}, nil
}

func (p *PayPal) GetPaymentStatus(ctx context.Context, intentID string) (*IntentStatus, error) {
	body, err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, err
	}

	var res paypalOrderResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode paypal response: %v", ErrProvider, err)
	}

	return &IntentStatus{
		Status:       mapPayPalStatus(res.Status),
		ProviderData: body,
	}, nil
}

func (p *PayPal) VerifyWebhookSignature(payload []byte, signature string) bool {
	if p.creds.WebhookSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(p.creds.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

func (p *PayPal) ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var evt paypalWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: decode paypal webhook: %v", ErrProvider, err)
	}

	event := &WebhookEvent{
		EventID:   evt.ID,
		EventType: evt.EventType,
		IntentID:  evt.Resource.ID,
	}

	switch evt.EventType {
	case "CHECKOUT.ORDER.APPROVED", "PAYMENT.CAPTURE.COMPLETED":
		event.Status = IntentSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		event.Status = IntentFailed
	default:
		event.Status = mapPayPalStatus(evt.Resource.Status)
	}

	return event, nil
}

func (p *PayPal) Info() Info {
	return Info{
		Name:                NamePayPal,
		Enabled:             p.enabled,
		SupportedCurrencies: p.SupportedCurrencies(),
		PaymentMethods:      p.PaymentMethods(),
		MinAmount:           paypalMinimum,
		MaxAmount:           paypalMaximum,
		KeyHint:             MaskSecret(p.creds.PublishableKey),
	}
}

func (p *PayPal) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrProvider, err)
	}
	req.SetBasicAuth(p.creds.PublishableKey, p.creds.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: paypal request failed: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read paypal response: %v", ErrProvider, err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return data, nil
	default:
		var res paypalOrderResponse
		if err := json.Unmarshal(data, &res); err == nil && res.Message != "" {
			return nil, fmt.Errorf("%w: paypal: %s", ErrProvider, res.Message)
		}
		return nil, fmt.Errorf("%w: paypal returned status %d", ErrProvider, resp.StatusCode)
	}
}

func mapPayPalStatus(status string) string {
	switch status {
	case "COMPLETED", "APPROVED":
		return IntentSucceeded
	case "VOIDED":
		return IntentCancelled
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return IntentProcessing
	default:
		return IntentProcessing
	}
}
