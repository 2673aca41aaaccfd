/**
 * @description
 * Affiliate program and commission queries. Commission status transitions move
 * earnings between the program's ledger buckets inside one transaction, with
 * conditional updates so approved+paid never exceed what the ledger owes.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tradelab/entitlement-service/internal/domain"
)

const commissionColumns = `
	id, program_id, referred_user_id, type, amount, currency, status,
	created_at, verified_at, paid_at
`

func scanCommission(row pgx.Row) (*domain.AffiliateCommission, error) {
	var c domain.AffiliateCommission
	err := row.Scan(
		&c.ID,
		&c.ProgramID,
		&c.ReferredUserID,
		&c.Type,
		&c.Amount,
		&c.Currency,
		&c.Status,
		&c.CreatedAt,
		&c.VerifiedAt,
		&c.PaidAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetProgramByUserID retrieves the affiliate program owned by a user.
func (r *Repository) GetProgramByUserID(ctx context.Context, userID string) (*domain.AffiliateProgram, error) {
	query := `
		SELECT id, user_id, referral_code, commission_rate_bps,
		       pending_earnings, approved_earnings, paid_earnings, created_at
		FROM affiliate_programs
		WHERE user_id = $1
	`
	return scanProgram(r.db.QueryRow(ctx, query, userID))
}

// GetProgramByReferredUser finds the program that referred the given user,
// or ErrNotFound when the user signed up without a referral code.
func (r *Repository) GetProgramByReferredUser(ctx context.Context, referredUserID string) (*domain.AffiliateProgram, error) {
	query := `
		SELECT p.id, p.user_id, p.referral_code, p.commission_rate_bps,
		       p.pending_earnings, p.approved_earnings, p.paid_earnings, p.created_at
		FROM affiliate_programs p
		JOIN users u ON u.referred_by_program_id = p.id
		WHERE u.id = $1
	`
	return scanProgram(r.db.QueryRow(ctx, query, referredUserID))
}

func scanProgram(row pgx.Row) (*domain.AffiliateProgram, error) {
	var p domain.AffiliateProgram
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.ReferralCode,
		&p.CommissionRateBps,
		&p.PendingEarnings,
		&p.ApprovedEarnings,
		&p.PaidEarnings,
		&p.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// CreateCommission inserts a pending commission and credits the program's
// pending-earnings bucket in the same transaction.
func (r *Repository) CreateCommission(ctx context.Context, c *domain.AffiliateCommission) (*domain.AffiliateCommission, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commission tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO affiliate_commissions (program_id, referred_user_id, type, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + commissionColumns
	created, err := scanCommission(tx.QueryRow(ctx, insertQuery,
		c.ProgramID, c.ReferredUserID, c.Type, c.Amount, c.Currency))
	if err != nil {
		return nil, err
	}

	ledgerQuery := `
		UPDATE affiliate_programs
		SET pending_earnings = pending_earnings + $1
		WHERE id = $2
	`
	if _, err := tx.Exec(ctx, ledgerQuery, c.Amount, c.ProgramID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveCommission moves a pending commission to approved and shifts its
// amount from the pending to the approved ledger bucket.
func (r *Repository) ApproveCommission(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error) {
	return r.transitionCommission(ctx, id, domain.CommissionPending, domain.CommissionApproved,
		"pending_earnings", "approved_earnings", "verified_at", now)
}

// MarkCommissionPaid moves an approved commission to paid and shifts its
// amount from the approved to the paid ledger bucket.
func (r *Repository) MarkCommissionPaid(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error) {
	return r.transitionCommission(ctx, id, domain.CommissionApproved, domain.CommissionPaid,
		"approved_earnings", "paid_earnings", "paid_at", now)
}

func (r *Repository) transitionCommission(
	ctx context.Context,
	id string,
	from, to domain.CommissionStatus,
	fromBucket, toBucket, stampColumn string,
	now time.Time,
) (*domain.AffiliateCommission, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin commission transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := fmt.Sprintf(`
		UPDATE affiliate_commissions
		SET status = $1, %s = $2
		WHERE id = $3 AND status = $4
		RETURNING `+commissionColumns, stampColumn)
	updated, err := scanCommission(tx.QueryRow(ctx, updateQuery, to, now, id, from))
	if err != nil {
		if err == ErrNotFound {
			// Distinguish a missing row from a wrong-status row.
			var exists bool
			checkErr := r.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM affiliate_commissions WHERE id = $1)`, id).Scan(&exists)
			if checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, ErrInvalidTransition
			}
			return nil, ErrNotFound
		}
		return nil, err
	}

	ledgerQuery := fmt.Sprintf(`
		UPDATE affiliate_programs
		SET %s = %s - $1,
		    %s = %s + $1
		WHERE id = $2 AND %s >= $1
	`, fromBucket, fromBucket, toBucket, toBucket, fromBucket)
	tag, err := tx.Exec(ctx, ledgerQuery, updated.Amount, updated.ProgramID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLedgerConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// ListCommissionsByProgram returns a program's commissions, newest first.
func (r *Repository) ListCommissionsByProgram(ctx context.Context, programID string, limit int) ([]domain.AffiliateCommission, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM affiliate_commissions
		WHERE program_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, programID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commissions []domain.AffiliateCommission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		commissions = append(commissions, *c)
	}
	return commissions, rows.Err()
}
