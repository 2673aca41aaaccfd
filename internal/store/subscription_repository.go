/**
 * @description
 * Subscription queries: lookups, the billing claim lease, and the
 * version-checked writes that keep the subscription row and its billing
 * history consistent under concurrent ticks.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradelab/entitlement-service/internal/domain"
)

const subscriptionColumns = `
	id, user_id, product_kind, status, current_period_start, current_period_end,
	next_billing_date, amount, currency, failed_payment_count, max_failed_payments,
	cancel_reason, version, processing_until, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.ProductKind,
		&sub.Status,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.NextBillingDate,
		&sub.Amount,
		&sub.Currency,
		&sub.FailedPaymentCount,
		&sub.MaxFailedPayments,
		&sub.CancelReason,
		&sub.Version,
		&sub.ProcessingUntil,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// GetSubscriptionByID retrieves a subscription by primary key.
func (r *Repository) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

// GetSubscriptionByUserAndKind retrieves a user's subscription for a product kind.
// Each user owns at most one subscription per kind.
func (r *Repository) GetSubscriptionByUserAndKind(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1 AND product_kind = $2`
	return scanSubscription(r.db.QueryRow(ctx, query, userID, kind))
}

// CreateSubscription inserts a new subscription row and returns it.
func (r *Repository) CreateSubscription(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (
			user_id, product_kind, status, current_period_start, current_period_end,
			next_billing_date, amount, currency, failed_payment_count, max_failed_payments
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + subscriptionColumns
	return scanSubscription(r.db.QueryRow(ctx, query,
		sub.UserID,
		sub.ProductKind,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.NextBillingDate,
		sub.Amount,
		sub.Currency,
		sub.FailedPaymentCount,
		sub.MaxFailedPayments,
	))
}

// ListDueSubscriptions fetches subscriptions the billing processor should act
// on: active ones whose billing date has passed, plus past-due ones eligible
// for a retry on this tick.
func (r *Repository) ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status IN ('active', 'past_due')
		  AND next_billing_date <= $1
		ORDER BY next_billing_date ASC
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// ClaimForBilling takes a short-lived processing lease on a subscription so
// that overlapping billing runs never charge the same row twice. Returns the
// claimed row, or nil when another run holds the lease or the row already
// advanced past its due date.
func (r *Repository) ClaimForBilling(ctx context.Context, id string, now, leaseUntil time.Time) (*domain.Subscription, error) {
	query := `
		UPDATE subscriptions
		SET processing_until = $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND status IN ('active', 'past_due')
		  AND next_billing_date <= $3
		  AND (processing_until IS NULL OR processing_until < $3)
		RETURNING ` + subscriptionColumns
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, leaseUntil, id, now))
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// ReleaseBillingClaim clears the processing lease without touching state.
// Used when a claimed subscription hits an unexpected error before any
// terminal write; the next tick retries it.
func (r *Repository) ReleaseBillingClaim(ctx context.Context, id string) error {
	query := `UPDATE subscriptions SET processing_until = NULL, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// UpdateSubscriptionWithAttempt writes the subscription's next state and the
// billing attempt documenting it in one transaction, conditioned on the row's
// version not having changed since it was read. Price fields are persisted too:
// re-opening an expired subscription repriced at the current plan flows through
// this write. The write also clears any processing lease. Returns ErrConflict
// on a lost version race.
func (r *Repository) UpdateSubscriptionWithAttempt(ctx context.Context, sub *domain.Subscription, attempt *domain.BillingAttempt) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin subscription update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE subscriptions
		SET status = $1,
		    current_period_start = $2,
		    current_period_end = $3,
		    next_billing_date = $4,
		    amount = $5,
		    currency = $6,
		    failed_payment_count = $7,
		    cancel_reason = $8,
		    version = version + 1,
		    processing_until = NULL,
		    updated_at = NOW()
		WHERE id = $9 AND version = $10
	`
	tag, err := tx.Exec(ctx, updateQuery,
		sub.Status,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.NextBillingDate,
		sub.Amount,
		sub.Currency,
		sub.FailedPaymentCount,
		sub.CancelReason,
		sub.ID,
		sub.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if attempt != nil {
		attemptQuery := `
			INSERT INTO billing_attempts (
				subscription_id, amount, currency, status, failure_reason,
				provider_reference, attempted_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.Exec(ctx, attemptQuery,
			attempt.SubscriptionID,
			attempt.Amount,
			attempt.Currency,
			attempt.Status,
			attempt.FailureReason,
			attempt.ProviderReference,
			attempt.AttemptedAt,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpdateSubscription is the attempt-less variant used by cancellation.
func (r *Repository) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	return r.UpdateSubscriptionWithAttempt(ctx, sub, nil)
}

// ExpireLapsedCanceled marks soft-canceled subscriptions whose paid period has
// ended as expired. Returns how many rows were swept.
func (r *Repository) ExpireLapsedCanceled(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET status = 'expired',
		    version = version + 1,
		    updated_at = NOW()
		WHERE status = 'canceled'
		  AND current_period_end <= $1
	`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListBillingAttempts returns the most recent charge attempts recorded
// against a subscription, newest first.
func (r *Repository) ListBillingAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.BillingAttempt, error) {
	query := `
		SELECT id, subscription_id, amount, currency, status, failure_reason,
		       provider_reference, attempted_at
		FROM billing_attempts
		WHERE subscription_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, subscriptionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.BillingAttempt
	for rows.Next() {
		var a domain.BillingAttempt
		if err := rows.Scan(
			&a.ID,
			&a.SubscriptionID,
			&a.Amount,
			&a.Currency,
			&a.Status,
			&a.FailureReason,
			&a.ProviderReference,
			&a.AttemptedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// GetPlan retrieves the configured price for a recurring product kind.
func (r *Repository) GetPlan(ctx context.Context, kind domain.ProductKind) (*domain.SubscriptionPlan, error) {
	var plan domain.SubscriptionPlan
	query := `SELECT product_kind, amount, currency FROM subscription_plans WHERE product_kind = $1`
	err := r.db.QueryRow(ctx, query, kind).Scan(&plan.ProductKind, &plan.Amount, &plan.Currency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &plan, nil
}
