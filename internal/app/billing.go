/**
 * @description
 * Billing cycle processor: finds subscriptions due for collection and drives
 * them through the lifecycle manager. Invoked by the in-process cron scheduler
 * and by the authenticated internal trigger endpoint.
 *
 * Concurrency: each subscription is claimed with a short-lived processing
 * lease before the external charge, so overlapping runs never double-charge a
 * row. A failed claim means another run owns it and the row is skipped.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

// BillingRepository defines the database operations the processor needs.
type BillingRepository interface {
	ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error)
	ClaimForBilling(ctx context.Context, id string, now, leaseUntil time.Time) (*domain.Subscription, error)
	ReleaseBillingClaim(ctx context.Context, id string) error
}

// ChargeApplier is the slice of the lifecycle manager the processor feeds
// charge outcomes into.
type ChargeApplier interface {
	ApplySuccessfulCharge(ctx context.Context, subID string, chargedAmount int64, providerRef string, ts time.Time) (*domain.Subscription, error)
	ApplyFailedCharge(ctx context.Context, subID string, ts time.Time, reason string) (*domain.Subscription, error)
}

// BillingSummary reports what one processing run did.
type BillingSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BillingProcessor drives due subscriptions through charge collection.
type BillingProcessor struct {
	repo       BillingRepository
	lifecycle  ChargeApplier
	payments   PaymentClient
	logger     *slog.Logger
	claimLease time.Duration
	nowFn      func() time.Time
}

// NewBillingProcessor creates a new billing processor. claimLease bounds how
// long a crashed run can hold a subscription before another run may retry it.
func NewBillingProcessor(repo BillingRepository, lifecycle ChargeApplier, payments PaymentClient, logger *slog.Logger, claimLease time.Duration) *BillingProcessor {
	if claimLease <= 0 {
		claimLease = 5 * time.Minute
	}
	return &BillingProcessor{
		repo:       repo,
		lifecycle:  lifecycle,
		payments:   payments,
		logger:     logger,
		claimLease: claimLease,
		nowFn:      time.Now,
	}
}

// ProcessDueSubscriptions scans active subscriptions whose billing date has
// passed plus past-due retries, charges each through the payment collaborator
// and applies the outcome. One subscription's failure never aborts the batch;
// unexpected errors are logged and joined into the returned error so operators
// see data-integrity problems, while the summary still reflects the full run.
func (p *BillingProcessor) ProcessDueSubscriptions(ctx context.Context) (*BillingSummary, error) {
	now := p.nowFn().UTC()

	due, err := p.repo.ListDueSubscriptions(ctx, now)
	if err != nil {
		return nil, err
	}

	summary := &BillingSummary{}
	var unexpected []error

	for _, sub := range due {
		claimed, err := p.repo.ClaimForBilling(ctx, sub.ID, now, now.Add(p.claimLease))
		if err != nil {
			p.logger.Error("failed to claim subscription for billing", "subscription_id", sub.ID, "error", err)
			unexpected = append(unexpected, err)
			continue
		}
		if claimed == nil {
			// Another run holds the lease, or the row already advanced.
			summary.Skipped++
			continue
		}

		summary.Processed++

		providerRef, chargeErr := p.payments.Charge(ctx, claimed.Amount, claimed.Currency, map[string]string{
			"subscription_id": claimed.ID,
			"user_id":         claimed.UserID,
			"product_kind":    string(claimed.ProductKind),
		})

		if chargeErr != nil {
			summary.Failed++
			p.logger.Info("charge failed", "subscription_id", claimed.ID, "reason", chargeErr.Error())
			if err := p.applyOutcome(ctx, claimed.ID, func() error {
				_, err := p.lifecycle.ApplyFailedCharge(ctx, claimed.ID, now, chargeErr.Error())
				return err
			}); err != nil {
				unexpected = append(unexpected, err)
			}
			continue
		}

		summary.Succeeded++
		if err := p.applyOutcome(ctx, claimed.ID, func() error {
			_, err := p.lifecycle.ApplySuccessfulCharge(ctx, claimed.ID, claimed.Amount, providerRef, now)
			return err
		}); err != nil {
			unexpected = append(unexpected, err)
		}
	}

	p.logger.Info("billing run finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, errors.Join(unexpected...)
}

// applyOutcome writes a charge outcome through the lifecycle manager. A
// version conflict gets one retry against fresh state; if the subscription
// reached a non-chargeable state in the meantime (e.g. the user canceled while
// the charge was in flight) the outcome is dropped rather than resurrecting
// the subscription, and the claim is released for the next tick.
func (p *BillingProcessor) applyOutcome(ctx context.Context, subID string, apply func() error) error {
	err := apply()
	if errors.Is(err, store.ErrConflict) {
		err = apply()
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrInvalidState) {
		p.logger.Warn("charge outcome dropped, subscription no longer chargeable", "subscription_id", subID, "error", err)
		if releaseErr := p.repo.ReleaseBillingClaim(ctx, subID); releaseErr != nil {
			p.logger.Error("failed to release billing claim", "subscription_id", subID, "error", releaseErr)
		}
		return nil
	}

	p.logger.Error("failed to apply charge outcome", "subscription_id", subID, "error", err)
	if releaseErr := p.repo.ReleaseBillingClaim(ctx, subID); releaseErr != nil {
		p.logger.Error("failed to release billing claim", "subscription_id", subID, "error", releaseErr)
	}
	return err
}
