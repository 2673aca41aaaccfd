/**
 * @description
 * Access control evaluator: a stateless decision function answering "can user
 * U access item I of kind K now". Consults role overrides first, then
 * subscription state for subscription-gated kinds, then one-off purchase
 * records. Missing records produce a deny decision, never an error.
 */
package app

import (
	"context"
	"errors"
	"time"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

// AccessRepository defines the read-only lookups the evaluator needs.
type AccessRepository interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
	GetSubscriptionByUserAndKind(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error)
	GetPlan(ctx context.Context, kind domain.ProductKind) (*domain.SubscriptionPlan, error)
	HasCompletedPurchase(ctx context.Context, userID, itemID string) (bool, error)
	GetItem(ctx context.Context, itemID string) (*domain.BillableItem, error)
}

// AccessEvaluator decides entitlement questions. It has no side effects.
type AccessEvaluator struct {
	repo  AccessRepository
	nowFn func() time.Time
}

// NewAccessEvaluator creates a new access evaluator.
func NewAccessEvaluator(repo AccessRepository) *AccessEvaluator {
	return &AccessEvaluator{repo: repo, nowFn: time.Now}
}

// CheckAccess evaluates whether the user may access the item right now.
func (e *AccessEvaluator) CheckAccess(ctx context.Context, userID string, kind domain.ItemKind, itemID string) (*domain.AccessDecision, error) {
	role, err := e.repo.GetUserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.AccessDecision{Reason: "unknown user"}, nil
		}
		return nil, err
	}

	// Role override short-circuits before any subscription/purchase lookup.
	if role == domain.RoleAdmin || role == domain.RolePremium {
		return &domain.AccessDecision{HasAccess: true, Reason: "role grants blanket access"}, nil
	}

	if kind.SubscriptionGated() {
		return e.checkSubscriptionAccess(ctx, userID, kind.ProductKind())
	}
	return e.checkPurchaseAccess(ctx, userID, itemID)
}

func (e *AccessEvaluator) checkSubscriptionAccess(ctx context.Context, userID string, product domain.ProductKind) (*domain.AccessDecision, error) {
	sub, err := e.repo.GetSubscriptionByUserAndKind(ctx, userID, product)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return e.subscriptionPaywall(ctx, product, "no subscription")
		}
		return nil, err
	}

	now := e.nowFn().UTC()
	if sub.Entitled(now) {
		reason := "active subscription"
		if sub.Status == domain.StatusPastDue {
			reason = "past due, within grace window"
		} else if sub.Status == domain.StatusCanceled {
			reason = "canceled, paid through period end"
		}
		return &domain.AccessDecision{HasAccess: true, Reason: reason}, nil
	}

	return e.subscriptionPaywall(ctx, product, "subscription "+string(sub.Status))
}

// subscriptionPaywall builds the requires-payment decision for a recurring
// product, attaching the plan price when one is configured.
func (e *AccessEvaluator) subscriptionPaywall(ctx context.Context, product domain.ProductKind, reason string) (*domain.AccessDecision, error) {
	decision := &domain.AccessDecision{RequiresPayment: true, Reason: reason}
	plan, err := e.repo.GetPlan(ctx, product)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decision, nil
		}
		return nil, err
	}
	decision.Price = plan.Amount
	decision.Currency = plan.Currency
	return decision, nil
}

func (e *AccessEvaluator) checkPurchaseAccess(ctx context.Context, userID, itemID string) (*domain.AccessDecision, error) {
	purchased, err := e.repo.HasCompletedPurchase(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return &domain.AccessDecision{HasAccess: true, Reason: "purchased"}, nil
	}

	item, err := e.repo.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.AccessDecision{Reason: "unknown item"}, nil
		}
		return nil, err
	}

	return &domain.AccessDecision{
		RequiresPayment: true,
		Reason:          "purchase required",
		Price:           item.Amount,
		Currency:        item.Currency,
	}, nil
}
