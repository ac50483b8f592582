package service

import "errors"

var (
	// ErrDuplicateActiveOrder means a paid or pending-and-unexpired order
	// of the same type already exists for the user. Business-rule
	// conflict; never retried automatically.
	ErrDuplicateActiveOrder = errors.New("an active order of this type already exists")

	// ErrOrderNotFound is returned for unknown order IDs.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidTransition means a state change was attempted from a
	// terminal status. Surfaced as a no-op result, not a crash.
	ErrInvalidTransition = errors.New("order is not in a state that allows this transition")

	// ErrOrderNotPayable means the order cannot accept a payment right
	// now: wrong status, or its expiry has already passed.
	ErrOrderNotPayable = errors.New("order cannot be paid")

	// ErrConfirmationConflict means a provider confirmation arrived for
	// an order that already reached a different terminal state. The
	// terminal state wins; the confirmation is reported, not applied.
	ErrConfirmationConflict = errors.New("provider confirmation conflicts with terminal order state")

	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)
