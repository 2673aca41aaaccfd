/**
 * @description
 * Core domain models for recurring subscriptions and their billing history.
 */
package domain

import "time"

// ProductKind identifies which recurring product a subscription grants.
type ProductKind string

const (
	ProductSignals       ProductKind = "signals"
	ProductCopyTrading   ProductKind = "copy_trading"
	ProductCoursePremium ProductKind = "course_premium"
)

// ValidProductKind reports whether k names a known recurring product.
func ValidProductKind(k ProductKind) bool {
	switch k {
	case ProductSignals, ProductCopyTrading, ProductCoursePremium:
		return true
	}
	return false
}

// SubscriptionStatus enumerates the subscription lifecycle states.
type SubscriptionStatus string

const (
	StatusPending  SubscriptionStatus = "pending"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusExpired  SubscriptionStatus = "expired"
)

// Subscription represents a recurring entitlement owned by a single user.
// Version backs the optimistic-concurrency discipline; ProcessingUntil is the
// short-lived claim lease taken by the billing processor before charging.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	ProductKind        ProductKind        `json:"product_kind"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	NextBillingDate    time.Time          `json:"next_billing_date"`
	Amount             int64              `json:"amount"`
	Currency           string             `json:"currency"`
	FailedPaymentCount int                `json:"failed_payment_count"`
	MaxFailedPayments  int                `json:"max_failed_payments"`
	CancelReason       *string            `json:"cancel_reason,omitempty"`
	Version            int                `json:"-"`
	ProcessingUntil    *time.Time         `json:"-"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Entitled reports whether the subscription grants access at the given instant.
// ACTIVE always grants; PAST_DUE and CANCELED grant until the current period ends
// (grace window / soft cancellation).
func (s *Subscription) Entitled(now time.Time) bool {
	switch s.Status {
	case StatusActive:
		return true
	case StatusPastDue, StatusCanceled:
		return now.Before(s.CurrentPeriodEnd)
	}
	return false
}

// BillingAttempt is one append-only audit row per charge attempt against a
// subscription. Rows are never mutated after creation.
type BillingAttempt struct {
	ID                string    `json:"id"`
	SubscriptionID    string    `json:"subscription_id"`
	Amount            int64     `json:"amount"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"` // 'succeeded' or 'failed'
	FailureReason     *string   `json:"failure_reason,omitempty"`
	ProviderReference *string   `json:"provider_reference,omitempty"`
	AttemptedAt       time.Time `json:"attempted_at"`
}

const (
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)

// SubscriptionPlan holds the configured price for a recurring product kind.
type SubscriptionPlan struct {
	ProductKind ProductKind `json:"product_kind"`
	Amount      int64       `json:"amount"`
	Currency    string      `json:"currency"`
}

// EntitlementStatus is the read-only projection returned to status callers.
type EntitlementStatus struct {
	Entitled     bool          `json:"entitled"`
	Subscription *Subscription `json:"subscription,omitempty"`
}
