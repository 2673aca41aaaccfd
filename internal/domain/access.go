/**
 * @description
 * Access-decision types returned by the access evaluator to page/API callers.
 */
package domain

// ItemKind identifies what kind of resource an access check targets.
type ItemKind string

const (
	ItemSignals     ItemKind = "signals"
	ItemCopyTrading ItemKind = "copy_trading"
	ItemCourse      ItemKind = "course"
	ItemResource    ItemKind = "resource"
)

// SubscriptionGated reports whether access to the kind derives from a
// recurring subscription rather than a one-off purchase.
func (k ItemKind) SubscriptionGated() bool {
	return k == ItemSignals || k == ItemCopyTrading
}

// ProductKind maps a subscription-gated item kind to its product.
func (k ItemKind) ProductKind() ProductKind {
	switch k {
	case ItemSignals:
		return ProductSignals
	case ItemCopyTrading:
		return ProductCopyTrading
	}
	return ""
}

// AccessDecision is the result of an access check. Absence of entitlement is a
// normal requires-payment response, never an error surfaced to the end user.
type AccessDecision struct {
	HasAccess       bool   `json:"has_access"`
	RequiresPayment bool   `json:"requires_payment"`
	Reason          string `json:"reason"`
	Price           int64  `json:"price,omitempty"`
	Currency        string `json:"currency,omitempty"`
}

// User roles. Admin and premium roles short-circuit access checks.
const (
	RoleStudent = "student"
	RolePremium = "premium"
	RoleAdmin   = "admin"
)
