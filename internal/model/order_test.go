package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func orderWithExpiry(status OrderStatus, expiresAt time.Time) *Order {
	return &Order{Status: status, ExpiresAt: &expiresAt}
}

func TestOrderIsExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, orderWithExpiry(OrderPending, now.Add(time.Hour)).IsExpired(now))
	assert.True(t, orderWithExpiry(OrderPending, now.Add(-time.Second)).IsExpired(now))

	// No deadline means never expired.
	assert.False(t, (&Order{Status: OrderPending}).IsExpired(now))

	// The deadline instant itself is already expired, same as the SQL
	// blocking predicate (expires_at > now).
	assert.True(t, orderWithExpiry(OrderPending, now).IsExpired(now))
}

func TestOrderIsActive(t *testing.T) {
	now := time.Now()

	assert.True(t, orderWithExpiry(OrderPending, now.Add(time.Hour)).IsActive(now))
	assert.True(t, orderWithExpiry(OrderPaid, now.Add(-time.Hour)).IsActive(now))

	// A stale pending order stops blocking the moment its deadline
	// passes, even though its stored status has not flipped yet.
	assert.False(t, orderWithExpiry(OrderPending, now.Add(-time.Minute)).IsActive(now))
	assert.False(t, orderWithExpiry(OrderPending, now).IsActive(now))

	assert.False(t, orderWithExpiry(OrderExpired, now.Add(time.Hour)).IsActive(now))
	assert.False(t, orderWithExpiry(OrderCancelled, now.Add(time.Hour)).IsActive(now))
}

func TestOrderCanBePaid(t *testing.T) {
	now := time.Now()

	assert.True(t, orderWithExpiry(OrderPending, now.Add(time.Hour)).CanBePaid(now))
	assert.False(t, orderWithExpiry(OrderPending, now.Add(-time.Minute)).CanBePaid(now))
	assert.False(t, orderWithExpiry(OrderPending, now).CanBePaid(now))
	assert.False(t, orderWithExpiry(OrderPaid, now.Add(time.Hour)).CanBePaid(now))
	assert.False(t, orderWithExpiry(OrderCancelled, now.Add(time.Hour)).CanBePaid(now))
}

func TestOrderIsTerminal(t *testing.T) {
	assert.False(t, (&Order{Status: OrderPending}).IsTerminal())
	assert.True(t, (&Order{Status: OrderPaid}).IsTerminal())
	assert.True(t, (&Order{Status: OrderExpired}).IsTerminal())
	assert.True(t, (&Order{Status: OrderCancelled}).IsTerminal())
}

func TestOrderTypeValid(t *testing.T) {
	assert.True(t, OrderTypeRegistration.Valid())
	assert.True(t, OrderTypeAppointment.Valid())
	assert.False(t, OrderType("refund").Valid())
}
