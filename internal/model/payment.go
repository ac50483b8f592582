package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentSucceeded  PaymentStatus = "succeeded"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
)

// Payment is a single attempt to settle an order with a provider. An order
// may accumulate several payments (retries); at most one succeeds.
type Payment struct {
	ID               uuid.UUID       `json:"id"`
	OrderID          uuid.UUID       `json:"order_id"`
	ProviderIntentID string          `json:"provider_intent_id"`
	PaymentMethod    string          `json:"payment_method"`
	Status           PaymentStatus   `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (p *Payment) IsSuccessful() bool {
	return p.Status == PaymentSucceeded
}

func (p *Payment) CanBeRefunded() bool {
	return p.Status == PaymentSucceeded && p.RefundedAmount.LessThan(p.Amount)
}

func (p *Payment) RemainingRefundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}
