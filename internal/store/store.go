/**
 * @description
 * Data access layer for the entitlement service. The repository owns all SQL
 * against the subscriptions, billing_attempts, one_off_purchases, affiliate
 * tables and the pricing lookups. Split across files by concern.
 */
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no matching record exists.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a version-checked update matched no row,
	// meaning the record changed since it was read. Callers retry the
	// read-modify-write or leave the row for the next tick.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrLedgerConflict is returned when moving commission earnings between
	// ledger buckets would overdraw the source bucket.
	ErrLedgerConflict = errors.New("ledger does not cover commission amount")
)

// Repository handles database operations for the entitlement service.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}
