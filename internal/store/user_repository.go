/**
 * @description
 * User lookups needed by the access evaluator and purchase flows.
 */
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// GetUserRole returns the user's role ('student', 'premium', 'admin').
func (r *Repository) GetUserRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return role, nil
}
