package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mindcare/internal/config"
)

func stripeTestCreds() config.ProviderCredentials {
	return config.ProviderCredentials{
		Enabled:        true,
		SecretKey:      "sk_test_abc123",
		PublishableKey: "pk_test_abc123",
		WebhookSecret:  "whsec_test_secret",
	}
}

func newTestStripe(t *testing.T, handler http.Handler) *Stripe {
	t.Helper()
	s := NewStripe(stripeTestCreds(), []string{"USD", "EUR", "GBP"}, zap.NewNop())
	require.True(t, s.Enabled())
	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		s.baseURL = srv.URL
	}
	return s
}

func TestStripeCredentialValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.ProviderCredentials)
		enabled bool
	}{
		{"valid test keys", func(c *config.ProviderCredentials) {}, true},
		{"valid live keys", func(c *config.ProviderCredentials) {
			c.SecretKey = "sk_live_abc"
			c.PublishableKey = "pk_live_abc"
		}, true},
		{"disabled by config", func(c *config.ProviderCredentials) { c.Enabled = false }, false},
		{"missing secret key", func(c *config.ProviderCredentials) { c.SecretKey = "" }, false},
		{"missing webhook secret", func(c *config.ProviderCredentials) { c.WebhookSecret = "" }, false},
		{"bad secret prefix", func(c *config.ProviderCredentials) { c.SecretKey = "rk_test_abc" }, false},
		{"bad publishable prefix", func(c *config.ProviderCredentials) { c.PublishableKey = "sk_test_abc" }, false},
		{"mixed test and live", func(c *config.ProviderCredentials) { c.PublishableKey = "pk_live_abc" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds := stripeTestCreds()
			tt.mutate(&creds)
			s := NewStripe(creds, []string{"USD"}, zap.NewNop())
			assert.Equal(t, tt.enabled, s.Enabled())
		})
	}
}

func TestStripeAmountLimits(t *testing.T) {
	s := newTestStripe(t, nil)

	tests := []struct {
		amount   string
		currency string
		ok       bool
	}{
		{"0.50", "USD", true}, // minimum is inclusive
		{"0.49", "USD", false},
		{"0.30", "GBP", true},
		{"0.29", "GBP", false},
		{"0.49", "EUR", false},
		{"999999.99", "USD", true}, // maximum is inclusive
		{"1000000.00", "USD", false},
		{"150.00", "USD", true},
	}

	for _, tt := range tests {
		got := s.ValidateAmountLimits(decimal.RequireFromString(tt.amount), tt.currency)
		assert.Equal(t, tt.ok, got, "%s %s", tt.amount, tt.currency)
	}
}

func TestStripeValidateCurrencySupport(t *testing.T) {
	s := newTestStripe(t, nil)

	assert.True(t, s.ValidateCurrencySupport("USD"))
	assert.True(t, s.ValidateCurrencySupport("usd"))
	assert.True(t, s.ValidateCurrencySupport("GBP"))
	assert.False(t, s.ValidateCurrencySupport("JPY"))
	assert.False(t, s.ValidateCurrencySupport(""))
}

func TestStripeCreatePaymentIntent(t *testing.T) {
	var gotForm map[string]string
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.Equal(t, "Bearer sk_test_abc123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())

		gotForm = map[string]string{
			"amount":             r.PostForm.Get("amount"),
			"currency":           r.PostForm.Get("currency"),
			"metadata[order_id]": r.PostForm.Get("metadata[order_id]"),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret","status":"requires_payment_method"}`))
	}))

	intent, err := s.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("99.00"),
		Currency: "USD",
		Metadata: map[string]string{"order_id": "ord-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "9900", gotForm["amount"])
	assert.Equal(t, "usd", gotForm["currency"])
	assert.Equal(t, "ord-1", gotForm["metadata[order_id]"])

	assert.Equal(t, "pi_123", intent.ProviderIntentID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, IntentFailed, intent.Status)
}

func TestStripeCreatePaymentIntentRejectsBadInput(t *testing.T) {
	s := newTestStripe(t, nil)

	_, err := s.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("10.00"),
		Currency: "JPY",
	})
	assert.ErrorIs(t, err, ErrProvider)

	_, err = s.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("0.10"),
		Currency: "USD",
	})
	assert.ErrorIs(t, err, ErrProvider)
}

func TestStripeCreatePaymentIntentAPIError(t *testing.T) {
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"type":"card_error","message":"Your card was declined."}}`))
	}))

	_, err := s.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:   decimal.RequireFromString("50.00"),
		Currency: "USD",
	})
	require.ErrorIs(t, err, ErrProvider)
	assert.Contains(t, err.Error(), "card was declined")
}

func TestStripeGetPaymentStatus(t *testing.T) {
	s := newTestStripe(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)
		w.Write([]byte(`{"id":"pi_123","status":"succeeded"}`))
	}))

	status, err := s.GetPaymentStatus(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, IntentSucceeded, status.Status)
}

func signHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestStripeVerifyWebhookSignature(t *testing.T) {
	s := newTestStripe(t, nil)
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	sig := signHex("whsec_test_secret", payload)
	assert.True(t, s.VerifyWebhookSignature(payload, sig))
	assert.True(t, s.VerifyWebhookSignature(payload, "v1="+sig))

	assert.False(t, s.VerifyWebhookSignature(payload, signHex("wrong", payload)))
	assert.False(t, s.VerifyWebhookSignature([]byte("tampered"), sig))
	assert.False(t, s.VerifyWebhookSignature(payload, ""))
}

func TestStripeParseWebhookEvent(t *testing.T) {
	s := newTestStripe(t, nil)

	tests := []struct {
		eventType  string
		wantStatus string
	}{
		{"payment_intent.succeeded", IntentSucceeded},
		{"payment_intent.payment_failed", IntentFailed},
		{"payment_intent.canceled", IntentCancelled},
	}

	for _, tt := range tests {
		payload := []byte(`{"id":"evt_1","type":"` + tt.eventType + `","data":{"object":{"id":"pi_9","status":"processing"}}}`)
		event, err := s.ParseWebhookEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.EventID)
		assert.Equal(t, "pi_9", event.IntentID)
		assert.Equal(t, tt.wantStatus, event.Status, tt.eventType)
	}

	_, err := s.ParseWebhookEvent([]byte("not json"))
	assert.ErrorIs(t, err, ErrProvider)
}

func TestMapStripeStatus(t *testing.T) {
	assert.Equal(t, IntentSucceeded, mapStripeStatus("succeeded"))
	assert.Equal(t, IntentFailed, mapStripeStatus("requires_payment_method"))
	assert.Equal(t, IntentCancelled, mapStripeStatus("canceled"))
	assert.Equal(t, IntentProcessing, mapStripeStatus("processing"))
	assert.Equal(t, IntentProcessing, mapStripeStatus("requires_action"))
	assert.Equal(t, IntentProcessing, mapStripeStatus("something_new"))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(9900), minorUnits(decimal.RequireFromString("99.00"), "USD"))
	assert.Equal(t, int64(50), minorUnits(decimal.RequireFromString("0.50"), "EUR"))
	// Zero-decimal currencies pass through unscaled.
	assert.Equal(t, int64(500), minorUnits(decimal.RequireFromString("500"), "JPY"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "sk_test...", MaskSecret("sk_test_abc123"))
	assert.Equal(t, "(unset)", MaskSecret(""))
	assert.Equal(t, "a...", MaskSecret("abc"))
}
