/**
 * @description
 * Subscription lifecycle manager: the single authoritative state-transition
 * function for a subscription given a billing or cancellation event. Performs
 * no I/O beyond the one subscription/billing-record write; retry scheduling
 * belongs to the billing processor.
 *
 * State machine:
 *   pending -> active -> {past_due -> active | past_due -> expired}
 *   active/past_due -> canceled (soft) -> expired (sweep after period end)
 * expired is terminal.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

// LifecycleRepository defines the database operations the lifecycle manager needs.
type LifecycleRepository interface {
	GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error)
	GetSubscriptionByUserAndKind(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error)
	UpdateSubscriptionWithAttempt(ctx context.Context, sub *domain.Subscription, attempt *domain.BillingAttempt) error
	UpdateSubscription(ctx context.Context, sub *domain.Subscription) error
	ExpireLapsedCanceled(ctx context.Context, now time.Time) (int64, error)
	ListBillingAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.BillingAttempt, error)
}

// LifecycleManager owns subscription state transitions.
type LifecycleManager struct {
	repo      LifecycleRepository
	publisher EventPublisher
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager(repo LifecycleRepository, publisher EventPublisher, logger *slog.Logger) *LifecycleManager {
	return &LifecycleManager{repo: repo, publisher: publisher, logger: logger, nowFn: time.Now}
}

// chargeable reports whether a subscription can receive a charge outcome.
func chargeable(status domain.SubscriptionStatus) bool {
	return status == domain.StatusPending || status == domain.StatusActive || status == domain.StatusPastDue
}

// ApplySuccessfulCharge advances the billing period by one month, resets the
// failed-payment count and activates the subscription. The billing attempt is
// written in the same transaction as the state change.
func (m *LifecycleManager) ApplySuccessfulCharge(ctx context.Context, subID string, chargedAmount int64, providerRef string, ts time.Time) (*domain.Subscription, error) {
	sub, err := m.repo.GetSubscriptionByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !chargeable(sub.Status) {
		return nil, fmt.Errorf("subscription %s is %s: %w", sub.ID, sub.Status, ErrInvalidState)
	}

	if sub.Status == domain.StatusPending {
		// First charge anchors the period at the charge timestamp.
		sub.CurrentPeriodStart = ts
	} else {
		sub.CurrentPeriodStart = sub.CurrentPeriodEnd
	}
	sub.CurrentPeriodEnd = sub.CurrentPeriodStart.AddDate(0, 1, 0)
	sub.NextBillingDate = sub.CurrentPeriodEnd
	sub.FailedPaymentCount = 0
	sub.Status = domain.StatusActive

	ref := providerRef
	attempt := &domain.BillingAttempt{
		SubscriptionID: sub.ID,
		Amount:         chargedAmount,
		Currency:       sub.Currency,
		Status:         domain.AttemptSucceeded,
		AttemptedAt:    ts,
	}
	if ref != "" {
		attempt.ProviderReference = &ref
	}

	if err := m.repo.UpdateSubscriptionWithAttempt(ctx, sub, attempt); err != nil {
		return nil, err
	}

	m.publishSubscriptionEvent(ctx, "billing.charge_succeeded", sub, nil)
	return sub, nil
}

// ApplyFailedCharge increments the failed-payment count. The subscription
// stays usable in a past-due grace window until the count exceeds the allowed
// maximum, at which point it expires and loses entitlement immediately.
func (m *LifecycleManager) ApplyFailedCharge(ctx context.Context, subID string, ts time.Time, reason string) (*domain.Subscription, error) {
	sub, err := m.repo.GetSubscriptionByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if !chargeable(sub.Status) {
		return nil, fmt.Errorf("subscription %s is %s: %w", sub.ID, sub.Status, ErrInvalidState)
	}

	sub.FailedPaymentCount++
	if sub.FailedPaymentCount > sub.MaxFailedPayments {
		sub.Status = domain.StatusExpired
	} else {
		sub.Status = domain.StatusPastDue
	}

	failureReason := reason
	attempt := &domain.BillingAttempt{
		SubscriptionID: sub.ID,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Status:         domain.AttemptFailed,
		FailureReason:  &failureReason,
		AttemptedAt:    ts,
	}

	if err := m.repo.UpdateSubscriptionWithAttempt(ctx, sub, attempt); err != nil {
		return nil, err
	}

	m.publishSubscriptionEvent(ctx, "billing.charge_failed", sub, &failureReason)
	if sub.Status == domain.StatusExpired {
		m.publishSubscriptionEvent(ctx, "subscription.expired", sub, &failureReason)
	}
	return sub, nil
}

// Cancel soft-cancels a subscription: entitlement continues until the current
// period end, after which the expiry sweep marks it expired. Returns
// store.ErrNotFound when no subscription exists for the id, ErrInvalidState
// when it is not active or past due.
func (m *LifecycleManager) Cancel(ctx context.Context, subID, reason string) (*domain.Subscription, error) {
	sub, err := m.repo.GetSubscriptionByID(ctx, subID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.StatusActive && sub.Status != domain.StatusPastDue {
		return nil, fmt.Errorf("subscription %s is %s: %w", sub.ID, sub.Status, ErrInvalidState)
	}

	sub.Status = domain.StatusCanceled
	if reason != "" {
		sub.CancelReason = &reason
	}

	if err := m.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	m.publishSubscriptionEvent(ctx, "subscription.canceled", sub, sub.CancelReason)
	return sub, nil
}

// GetStatus returns the entitlement projection for a user and product kind.
// Absence of a subscription is a normal "not entitled" answer, not an error.
func (m *LifecycleManager) GetStatus(ctx context.Context, userID string, kind domain.ProductKind) (*domain.EntitlementStatus, error) {
	sub, err := m.repo.GetSubscriptionByUserAndKind(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.EntitlementStatus{Entitled: false}, nil
		}
		return nil, err
	}
	return &domain.EntitlementStatus{
		Entitled:     sub.Entitled(m.nowFn().UTC()),
		Subscription: sub,
	}, nil
}

// ListBillingHistory returns the recent charge attempts for the user's
// subscription of the given kind.
func (m *LifecycleManager) ListBillingHistory(ctx context.Context, userID string, kind domain.ProductKind) ([]domain.BillingAttempt, error) {
	sub, err := m.repo.GetSubscriptionByUserAndKind(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	return m.repo.ListBillingAttempts(ctx, sub.ID, 24)
}

// ExpireLapsed sweeps soft-canceled subscriptions whose paid period has ended.
func (m *LifecycleManager) ExpireLapsed(ctx context.Context) (int64, error) {
	swept, err := m.repo.ExpireLapsedCanceled(ctx, m.nowFn().UTC())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		m.logger.Info("expired lapsed canceled subscriptions", "count", swept)
	}
	return swept, nil
}

type subscriptionEvent struct {
	SubscriptionID string             `json:"subscription_id"`
	UserID         string             `json:"user_id"`
	ProductKind    domain.ProductKind `json:"product_kind"`
	Status         string             `json:"status"`
	Amount         int64              `json:"amount"`
	Currency       string             `json:"currency"`
	PeriodEnd      time.Time          `json:"period_end"`
	FailureReason  *string            `json:"failure_reason,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

func (m *LifecycleManager) publishSubscriptionEvent(ctx context.Context, routingKey string, sub *domain.Subscription, failureReason *string) {
	if m.publisher == nil {
		return
	}

	payload := subscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ProductKind:    sub.ProductKind,
		Status:         string(sub.Status),
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		PeriodEnd:      sub.CurrentPeriodEnd,
		FailureReason:  failureReason,
		Timestamp:      m.nowFn().UTC(),
	}

	if err := m.publisher.Publish(ctx, eventsExchange, routingKey, payload); err != nil {
		m.logger.Warn("failed to publish subscription event", "routing_key", routingKey, "error", err)
	}
}
