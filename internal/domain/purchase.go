/**
 * @description
 * Domain model for one-off purchases of individually priced items
 * (resource documents, non-premium courses).
 */
package domain

import "time"

// PurchaseStatus enumerates one-off purchase states.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseFailed    PurchaseStatus = "failed"
)

// OneOffPurchase is a single non-recurring payment granting access to one item.
// Duplicates are tolerated; entitlement derives from existence of any COMPLETED row.
type OneOffPurchase struct {
	ID                string         `json:"id"`
	UserID            string         `json:"user_id"`
	ItemID            string         `json:"item_id"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	Status            PurchaseStatus `json:"status"`
	ProviderReference *string        `json:"provider_reference,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// BillableItem holds the configured price of a one-off purchasable item.
type BillableItem struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"` // 'course' or 'resource'
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
