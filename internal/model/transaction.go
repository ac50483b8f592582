package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxOrderCreated     TransactionType = "order_created"
	TxOrderExpired     TransactionType = "order_expired"
	TxStatusChange     TransactionType = "status_change"
	TxPaymentInitiated TransactionType = "payment_initiated"
	TxPaymentSucceeded TransactionType = "payment_succeeded"
	TxPaymentFailed    TransactionType = "payment_failed"
	TxWebhookReceived  TransactionType = "webhook_received"
)

// Transaction is an append-only audit record of every order and payment
// state change. Rows are written in the same database transaction as the
// change they describe and never updated afterwards.
type Transaction struct {
	ID                uuid.UUID           `json:"id"`
	OrderID           uuid.UUID           `json:"order_id"`
	PaymentID         uuid.NullUUID       `json:"payment_id,omitempty"`
	Type              TransactionType     `json:"type"`
	Amount            decimal.NullDecimal `json:"amount,omitempty"`
	Currency          string              `json:"currency,omitempty"`
	PreviousStatus    string              `json:"previous_status,omitempty"`
	NewStatus         string              `json:"new_status,omitempty"`
	Description       string              `json:"description"`
	ProviderReference string              `json:"provider_reference,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
}
