package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare/internal/config"
)

func paypalTestCreds() config.ProviderCredentials {
	return config.ProviderCredentials{
		Enabled:        true,
		SecretKey:      "client-secret",
		PublishableKey: "client-id",
		WebhookSecret:  "paypal-webhook-secret",
	}
}

func newTestPayPal(t *testing.T, handler http.Handler) *PayPal {
	t.Helper()
	p := NewPayPal(paypalTestCreds(), []string{"USD", "EUR"}, zap.NewNop())
	require.True(t, p.Enabled())
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		p.baseURL = srv.URL
	}
	return p
}

func TestPayPalEnabled(t *testing.T) {
	creds := paypalTestCreds()
	creds.SecretKey = ""
	assert.False(t, NewPayPal(creds, []string{"USD"}, zap.NewNop()).Enabled())

	creds = paypalTestCreds()
	creds.Enabled = false
	assert.False(t, NewPayPal(creds, []string{"USD"}, zap.NewNop()).Enabled())
}

func TestPayPalAmountLimits(t *testing.T) {
	p := newTestPayPal(t, nil)

	assert.True(t, p.ValidateAmountLimits(decimal.RequireFromString("1.00"), "USD"))
	assert.False(t, p.ValidateAmountLimits(decimal.RequireFromString("0.99"), "USD"))
	assert.True(t, p.ValidateAmountLimits(decimal.RequireFromString("60000.00"), "USD"))
	assert.False(t, p.ValidateAmountLimits(decimal.RequireFromString("60000.01"), "USD"))
}

func TestPayPalValidateCurrencySupport(t *testing.T) {
	p := newTestPayPal(t, nil)

	assert.True(t, p.ValidateCurrencySupport("USD"))
	assert.True(t, p.ValidateCurrencySupport("eur"))
	assert.False(t, p.ValidateCurrencySupport("GBP"))
}

func TestPayPalCreatePaymentIntent(t *testing.T) {
	p := newTestPayPal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v2/checkout/orders", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-id", user)
		require.Equal(t, "client-secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "CAPTURE", body["intent"])

		units := body["purchase_units"].([]any)
		amount := units[0].(map[string]any)["amount"].(map[string]any)
		require.Equal(t, "USD", amount["currency_code"])
		require.Equal(t, "150.00", amount["value"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": "PAY-1",
			"status": "CREATED",
			"links": [
				{"href": "https://example.com/self", "rel": "self"},
				{"href": "https://example.com/approve", "rel": "approve"}
			]
		}`))
	}))

	intent, err := p.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("150.00"),
		Currency: "USD",
		Metadata: map[string]string{"order_id": "ord-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "PAY-1", intent.ProviderIntentID)
	assert.Equal(t, "https://example.com/approve", intent.RedirectURL)
	assert.Equal(t, IntentProcessing, intent.Status)
}

func TestPayPalCreatePaymentIntentAPIError(t *testing.T) {
	p := newTestPayPal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"CURRENCY_NOT_SUPPORTED"}`))
	}))

	_, err := p.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "EUR",
	})
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "CURRENCY_NOT_SUPPORTED")
}

func TestPayPalGetPaymentStatus(t *testing.T) {
	p := newTestPayPal(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders/PAY-1", r.URL.Path)
		w.Write([]byte(`{"id":"PAY-1","status":"COMPLETED"}`))
	}))

	status, err := p.GetPaymentStatus(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, status.Status)
}

func TestPayPalVerifyWebhookSignature(t *testing.T) {
	p := newTestPayPal(t, nil)
	payload := []byte(`{"id":"WH-1"}`)

	assert.True(t, p.VerifyWebhookSignature(payload, signHex("paypal-webhook-secret", payload)))
	assert.False(t, p.VerifyWebhookSignature(payload, signHex("wrong", payload)))
}

func TestPayPalParseWebhookEvent(t *testing.T) {
	p := newTestPayPal(t, nil)

	payload := []byte(`{
		"id": "WH-1",
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {"id": "PAY-1", "status": "COMPLETED"}
	}`)
	event, err := p.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "WH-1", event.EventID)
	assert.Equal(t, "PAY-1", event.IntentID)
	assert.Equal(t, IntentSucceeded, event.Status)

	payload = []byte(`{
		"id": "WH-2",
		"event_type": "PAYMENT.CAPTURE.DENIED",
		"resource": {"id": "PAY-2", "status": "DECLINED"}
	}`)
	event, err = p.ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, IntentFailed, event.Status)
}

func TestMapPayPalStatus(t *testing.T) {
	assert.Equal(t, IntentSucceeded, mapPayPalStatus("COMPLETED"))
	assert.Equal(t, IntentSucceeded, mapPayPalStatus("APPROVED"))
	assert.Equal(t, IntentCancelled, mapPayPalStatus("VOIDED"))
	assert.Equal(t, IntentProcessing, mapPayPalStatus("CREATED"))
	assert.Equal(t, IntentProcessing, mapPayPalStatus("PAYER_ACTION_REQUIRED"))
}
