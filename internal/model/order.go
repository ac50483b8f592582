package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeRegistration OrderType = "psychologist_registration"
	OrderTypeAppointment  OrderType = "appointment_booking"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeRegistration || t == OrderTypeAppointment
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderExpired   OrderStatus = "expired"
	OrderCancelled OrderStatus = "cancelled"
)

// OrderMetadata is the fixed-schema metadata block persisted as JSONB.
// Keys are enumerated here instead of an open map so the consent- and
// provider-correlation fields the read paths rely on are always typed.
type OrderMetadata struct {
	ServiceType        string `json:"service_type,omitempty"`
	SessionType        string `json:"session_type,omitempty"`
	PsychologistID     string `json:"psychologist_id,omitempty"`
	PsychologistName   string `json:"psychologist_name,omitempty"`
	AppointmentDate    string `json:"appointment_date,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	OrderType       OrderType       `json:"order_type"`
	UserID          uuid.UUID       `json:"user_id"`
	PsychologistID  uuid.NullUUID   `json:"psychologist_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentProvider string          `json:"payment_provider"`
	Status          OrderStatus     `json:"status"`
	Description     string          `json:"description"`
	Metadata        OrderMetadata   `json:"metadata"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsExpired is purely time-derived and independent of the stored status.
// Flipping status to OrderExpired is a separate, explicit service call.
// The deadline itself counts as expired, keeping this in agreement with
// the expires_at > now blocking predicate in SQL.
func (o *Order) IsExpired(now time.Time) bool {
	if o.ExpiresAt == nil {
		return false
	}
	return !o.ExpiresAt.After(now)
}

// IsActive reports whether this order blocks creation of another order of
// the same type for the same user. A stale pending order whose expiry has
// passed does not block, even before the sweep normalizes its status.
func (o *Order) IsActive(now time.Time) bool {
	if o.Status == OrderPaid {
		return true
	}
	return o.Status == OrderPending && !o.IsExpired(now)
}

func (o *Order) CanBePaid(now time.Time) bool {
	return o.Status == OrderPending && !o.IsExpired(now)
}

func (o *Order) IsTerminal() bool {
	return o.Status == OrderPaid || o.Status == OrderExpired || o.Status == OrderCancelled
}
