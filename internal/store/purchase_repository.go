/**
 * @description
 * One-off purchase queries and the billable-item price lookup.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/tradelab/entitlement-service/internal/domain"
)

// CreatePurchase inserts a pending purchase row and returns it.
func (r *Repository) CreatePurchase(ctx context.Context, p *domain.OneOffPurchase) (*domain.OneOffPurchase, error) {
	var created domain.OneOffPurchase
	query := `
		INSERT INTO one_off_purchases (user_id, item_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, item_id, amount, currency, status, provider_reference,
		          created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, p.UserID, p.ItemID, p.Amount, p.Currency, p.Status).Scan(
		&created.ID,
		&created.UserID,
		&created.ItemID,
		&created.Amount,
		&created.Currency,
		&created.Status,
		&created.ProviderReference,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// MarkPurchaseOutcome records the charge result on a pending purchase.
func (r *Repository) MarkPurchaseOutcome(ctx context.Context, id string, status domain.PurchaseStatus, providerRef *string) error {
	query := `
		UPDATE one_off_purchases
		SET status = $1,
		    provider_reference = $2,
		    updated_at = NOW()
		WHERE id = $3 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, status, providerRef, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// HasCompletedPurchase reports whether any completed purchase exists for the
// (user, item) pair. Duplicate rows are tolerated; one completed row grants.
func (r *Repository) HasCompletedPurchase(ctx context.Context, userID, itemID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM one_off_purchases
			WHERE user_id = $1 AND item_id = $2 AND status = 'completed'
		)
	`
	if err := r.db.QueryRow(ctx, query, userID, itemID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// GetItem retrieves a billable item's configured price.
func (r *Repository) GetItem(ctx context.Context, itemID string) (*domain.BillableItem, error) {
	var item domain.BillableItem
	query := `SELECT id, kind, amount, currency FROM billable_items WHERE id = $1`
	err := r.db.QueryRow(ctx, query, itemID).Scan(&item.ID, &item.Kind, &item.Amount, &item.Currency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}
