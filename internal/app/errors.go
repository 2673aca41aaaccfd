/**
 * @description
 * Typed errors surfaced by the application layer. Store-level sentinels
 * (not-found, version conflicts, ledger conflicts) pass through wrapped, so
 * callers can branch with errors.Is across layers.
 */
package app

import (
	"context"
	"errors"
)

var (
	// ErrInvalidState is returned when an operation is not allowed from the
	// record's current lifecycle state (e.g. canceling an expired subscription).
	ErrInvalidState = errors.New("invalid state for operation")
	// ErrPaymentFailed wraps a declined or timed-out charge. Always
	// recoverable: it maps to a failed billing attempt, never a crash.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrRateLimited is returned when a caller exceeds a purchase rate limit.
	ErrRateLimited = errors.New("rate limited")
)

// eventsExchange is the topic exchange all domain events are published to.
const eventsExchange = "tradelab.events"

// EventPublisher defines the interface for publishing domain events. Services
// treat a nil publisher as "no events configured" and skip publishing.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// PaymentClient defines the interface for the external payment collaborator.
// The call is bounded by the client's own timeout; any error (decline or
// timeout) is treated as a failed charge and retried on a later tick.
type PaymentClient interface {
	Charge(ctx context.Context, amount int64, currency string, metadata map[string]string) (providerRef string, err error)
}
