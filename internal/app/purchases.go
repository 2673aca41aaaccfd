/**
 * @description
 * Purchase flows: starting a recurring subscription (with its synchronous
 * initial charge) and buying a one-off priced item. Both feed charge outcomes
 * through the lifecycle manager / purchase record so entitlement state and the
 * billing ledger stay consistent.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

// PurchaseRepository defines the database operations the purchase flows need.
type PurchaseRepository interface {
	GetPlan(ctx context.Context, kind domain.ProductKind) (*domain.SubscriptionPlan, error)
	GetSubscriptionByUserAndKind(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error)
	CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetItem(ctx context.Context, itemID string) (*domain.BillableItem, error)
	CreatePurchase(ctx context.Context, p *domain.OneOffPurchase) (*domain.OneOffPurchase, error)
	MarkPurchaseOutcome(ctx context.Context, id string, status domain.PurchaseStatus, providerRef *string) error
	HasCompletedPurchase(ctx context.Context, userID, itemID string) (bool, error)
}

// RateLimiter bounds how often a subject may hit a scope. A nil limiter
// disables limiting.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// PurchaseService orchestrates purchase flows.
type PurchaseService struct {
	repo          PurchaseRepository
	lifecycle     ChargeApplier
	commissions   *CommissionService
	payments      PaymentClient
	limiter       RateLimiter
	logger        *slog.Logger
	purchaseLimit int
	limitWindow   time.Duration
	nowFn         func() time.Time
}

// NewPurchaseService creates a new purchase service. purchaseLimit bounds
// charge attempts per user per limitWindow on the one-off purchase path.
func NewPurchaseService(
	repo PurchaseRepository,
	lifecycle ChargeApplier,
	commissions *CommissionService,
	payments PaymentClient,
	limiter RateLimiter,
	logger *slog.Logger,
	purchaseLimit int,
	limitWindow time.Duration,
) *PurchaseService {
	if purchaseLimit <= 0 {
		purchaseLimit = 10
	}
	if limitWindow <= 0 {
		limitWindow = time.Minute
	}
	return &PurchaseService{
		repo:          repo,
		lifecycle:     lifecycle,
		commissions:   commissions,
		payments:      payments,
		limiter:       limiter,
		logger:        logger,
		purchaseLimit: purchaseLimit,
		limitWindow:   limitWindow,
		nowFn:         time.Now,
	}
}

// StartSubscription creates (or re-opens) the user's subscription for a
// product kind at the plan price and attempts the initial charge
// synchronously. On success the subscription comes back active; on a declined
// charge it comes back past due with the failure recorded, and the returned
// error wraps ErrPaymentFailed.
func (s *PurchaseService) StartSubscription(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error) {
	if !domain.ValidProductKind(kind) {
		return nil, fmt.Errorf("unknown product kind %q: %w", kind, store.ErrNotFound)
	}

	plan, err := s.repo.GetPlan(ctx, kind)
	if err != nil {
		return nil, err
	}

	now := s.nowFn().UTC()

	sub, err := s.repo.GetSubscriptionByUserAndKind(ctx, userID, kind)
	switch {
	case err == nil:
		if sub.Status != domain.StatusExpired {
			return nil, fmt.Errorf("subscription already exists with status %s: %w", sub.Status, ErrInvalidState)
		}
		// Re-open the expired row: one row per (user, kind). The period stays
		// empty until the first successful charge anchors it, so a declined
		// charge never grants a grace window for time that was never paid.
		sub.Status = domain.StatusPending
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now
		sub.NextBillingDate = now
		sub.Amount = plan.Amount
		sub.Currency = plan.Currency
		sub.FailedPaymentCount = 0
		sub.CancelReason = nil
		if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
	case errors.Is(err, store.ErrNotFound):
		// Empty period until the first successful charge anchors it.
		sub, err = s.repo.CreateSubscription(ctx, &domain.Subscription{
			UserID:             userID,
			ProductKind:        kind,
			Status:             domain.StatusPending,
			CurrentPeriodStart: now,
			CurrentPeriodEnd:   now,
			NextBillingDate:    now,
			Amount:             plan.Amount,
			Currency:           plan.Currency,
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	providerRef, chargeErr := s.payments.Charge(ctx, sub.Amount, sub.Currency, map[string]string{
		"subscription_id": sub.ID,
		"user_id":         userID,
		"product_kind":    string(kind),
		"reference":       uuid.NewString(),
	})
	if chargeErr != nil {
		failed, applyErr := s.lifecycle.ApplyFailedCharge(ctx, sub.ID, now, chargeErr.Error())
		if applyErr != nil {
			return nil, applyErr
		}
		return failed, fmt.Errorf("initial charge declined: %v: %w", chargeErr, ErrPaymentFailed)
	}

	activated, err := s.lifecycle.ApplySuccessfulCharge(ctx, sub.ID, sub.Amount, providerRef, now)
	if err != nil {
		return nil, err
	}

	if s.commissions != nil {
		if err := s.commissions.RecordSubscriptionActivation(ctx, userID, activated.Amount, activated.Currency); err != nil {
			s.logger.Warn("failed to record activation commission", "user_id", userID, "error", err)
		}
	}

	return activated, nil
}

// PurchaseItem buys a one-off priced item for the user. Duplicate completed
// purchases are rejected before any charge. The pending purchase row is
// written first so a crash mid-charge leaves an auditable trail.
func (s *PurchaseService) PurchaseItem(ctx context.Context, userID, itemID string) (*domain.OneOffPurchase, error) {
	if s.limiter != nil {
		count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, "purchase", userID, s.purchaseLimit, s.limitWindow)
		if err != nil {
			// Limiter trouble should not block purchases.
			s.logger.Warn("purchase rate limiter unavailable", "user_id", userID, "error", err)
		} else if count > s.purchaseLimit {
			return nil, fmt.Errorf("retry after %ds: %w", retryAfter, ErrRateLimited)
		}
	}

	purchased, err := s.repo.HasCompletedPurchase(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, fmt.Errorf("item already purchased: %w", ErrInvalidState)
	}

	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}

	purchase, err := s.repo.CreatePurchase(ctx, &domain.OneOffPurchase{
		UserID:   userID,
		ItemID:   item.ID,
		Amount:   item.Amount,
		Currency: item.Currency,
		Status:   domain.PurchasePending,
	})
	if err != nil {
		return nil, err
	}

	providerRef, chargeErr := s.payments.Charge(ctx, purchase.Amount, purchase.Currency, map[string]string{
		"purchase_id": purchase.ID,
		"user_id":     userID,
		"item_id":     item.ID,
		"reference":   uuid.NewString(),
	})
	if chargeErr != nil {
		if markErr := s.repo.MarkPurchaseOutcome(ctx, purchase.ID, domain.PurchaseFailed, nil); markErr != nil {
			s.logger.Error("failed to mark purchase failed", "purchase_id", purchase.ID, "error", markErr)
		}
		purchase.Status = domain.PurchaseFailed
		return purchase, fmt.Errorf("charge declined: %v: %w", chargeErr, ErrPaymentFailed)
	}

	if err := s.repo.MarkPurchaseOutcome(ctx, purchase.ID, domain.PurchaseCompleted, &providerRef); err != nil {
		return nil, err
	}
	purchase.Status = domain.PurchaseCompleted
	purchase.ProviderReference = &providerRef

	return purchase, nil
}
