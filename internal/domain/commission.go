/**
 * @description
 * Domain models for the affiliate program: the per-affiliate earnings ledger
 * and individual commission records tied to referred users' qualifying actions.
 */
package domain

import "time"

// CommissionType identifies the referred action a commission rewards.
type CommissionType string

const (
	CommissionAccountOpening         CommissionType = "account_opening"
	CommissionSubscriptionActivation CommissionType = "subscription_activation"
)

// CommissionStatus values are monotonic: pending -> approved -> paid.
type CommissionStatus string

const (
	CommissionPending  CommissionStatus = "pending"
	CommissionApproved CommissionStatus = "approved"
	CommissionPaid     CommissionStatus = "paid"
)

// AffiliateProgram is a referring user's earnings ledger. Earnings move between
// the pending/approved/paid buckets as commissions transition, so the sum of
// approved and paid amounts can never exceed what the ledger records as owed.
type AffiliateProgram struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	ReferralCode      string    `json:"referral_code"`
	CommissionRateBps int       `json:"commission_rate_bps"`
	PendingEarnings   int64     `json:"pending_earnings"`
	ApprovedEarnings  int64     `json:"approved_earnings"`
	PaidEarnings      int64     `json:"paid_earnings"`
	CreatedAt         time.Time `json:"created_at"`
}

// AffiliateCommission represents earnings owed from one referred action.
// Amount is fixed at creation and never changes.
type AffiliateCommission struct {
	ID             string           `json:"id"`
	ProgramID      string           `json:"program_id"`
	ReferredUserID string           `json:"referred_user_id"`
	Type           CommissionType   `json:"type"`
	Amount         int64            `json:"amount"`
	Currency       string           `json:"currency"`
	Status         CommissionStatus `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	VerifiedAt     *time.Time       `json:"verified_at,omitempty"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
}
