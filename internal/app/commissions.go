/**
 * @description
 * Affiliate commission ledger: records commissions from referred users'
 * qualifying actions and walks them through the monotonic
 * pending -> approved -> paid transitions. Amounts are fixed at creation; the
 * program ledger's conditional bucket moves guarantee approved+paid never
 * exceed what the ledger records as owed.
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

// CommissionRepository defines the database operations the commission service needs.
type CommissionRepository interface {
	GetProgramByUserID(ctx context.Context, userID string) (*domain.AffiliateProgram, error)
	GetProgramByReferredUser(ctx context.Context, referredUserID string) (*domain.AffiliateProgram, error)
	CreateCommission(ctx context.Context, c *domain.AffiliateCommission) (*domain.AffiliateCommission, error)
	ApproveCommission(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error)
	MarkCommissionPaid(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error)
	ListCommissionsByProgram(ctx context.Context, programID string, limit int) ([]domain.AffiliateCommission, error)
}

// CommissionService provides the business logic for affiliate commissions.
type CommissionService struct {
	repo      CommissionRepository
	publisher EventPublisher
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewCommissionService creates a new commission service.
func NewCommissionService(repo CommissionRepository, publisher EventPublisher, logger *slog.Logger) *CommissionService {
	return &CommissionService{repo: repo, publisher: publisher, logger: logger, nowFn: time.Now}
}

// RecordSubscriptionActivation creates a pending commission for the program
// that referred the activating user, at the program's basis-point rate on the
// charged amount. A user without a referrer is a no-op.
func (s *CommissionService) RecordSubscriptionActivation(ctx context.Context, userID string, chargedAmount int64, currency string) error {
	program, err := s.repo.GetProgramByReferredUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	amount := chargedAmount * int64(program.CommissionRateBps) / 10000
	if amount <= 0 {
		return nil
	}

	created, err := s.repo.CreateCommission(ctx, &domain.AffiliateCommission{
		ProgramID:      program.ID,
		ReferredUserID: userID,
		Type:           domain.CommissionSubscriptionActivation,
		Amount:         amount,
		Currency:       currency,
	})
	if err != nil {
		return err
	}

	s.publishCommissionEvent(ctx, "commission.created", created)
	return nil
}

// RecordVerifiedAccountOpening creates a broker-referral commission once an
// admin has verified the referred user's deposit. Commissions are deferred to
// verification time so the amount is computed from the real deposit, never a
// placeholder.
func (s *CommissionService) RecordVerifiedAccountOpening(ctx context.Context, referredUserID string, depositAmount int64, currency string) (*domain.AffiliateCommission, error) {
	if depositAmount <= 0 {
		return nil, fmt.Errorf("deposit amount must be positive: %w", ErrInvalidState)
	}

	program, err := s.repo.GetProgramByReferredUser(ctx, referredUserID)
	if err != nil {
		return nil, err
	}

	amount := depositAmount * int64(program.CommissionRateBps) / 10000
	if amount <= 0 {
		return nil, fmt.Errorf("commission rounds to zero: %w", ErrInvalidState)
	}

	created, err := s.repo.CreateCommission(ctx, &domain.AffiliateCommission{
		ProgramID:      program.ID,
		ReferredUserID: referredUserID,
		Type:           domain.CommissionAccountOpening,
		Amount:         amount,
		Currency:       currency,
	})
	if err != nil {
		return nil, err
	}

	s.publishCommissionEvent(ctx, "commission.created", created)
	return created, nil
}

// Approve moves a pending commission to approved.
func (s *CommissionService) Approve(ctx context.Context, commissionID string) (*domain.AffiliateCommission, error) {
	approved, err := s.repo.ApproveCommission(ctx, commissionID, s.nowFn().UTC())
	if err != nil {
		return nil, err
	}
	s.publishCommissionEvent(ctx, "commission.approved", approved)
	return approved, nil
}

// MarkPaid moves an approved commission to paid.
func (s *CommissionService) MarkPaid(ctx context.Context, commissionID string) (*domain.AffiliateCommission, error) {
	paid, err := s.repo.MarkCommissionPaid(ctx, commissionID, s.nowFn().UTC())
	if err != nil {
		return nil, err
	}
	s.publishCommissionEvent(ctx, "commission.paid", paid)
	return paid, nil
}

// ListForAffiliate returns the commissions earned by the user's own program.
func (s *CommissionService) ListForAffiliate(ctx context.Context, userID string) ([]domain.AffiliateCommission, error) {
	program, err := s.repo.GetProgramByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListCommissionsByProgram(ctx, program.ID, 100)
}

type commissionEvent struct {
	CommissionID   string    `json:"commission_id"`
	ProgramID      string    `json:"program_id"`
	ReferredUserID string    `json:"referred_user_id"`
	Type           string    `json:"type"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

func (s *CommissionService) publishCommissionEvent(ctx context.Context, routingKey string, c *domain.AffiliateCommission) {
	if s.publisher == nil {
		return
	}

	payload := commissionEvent{
		CommissionID:   c.ID,
		ProgramID:      c.ProgramID,
		ReferredUserID: c.ReferredUserID,
		Type:           string(c.Type),
		Amount:         c.Amount,
		Currency:       c.Currency,
		Status:         string(c.Status),
		Timestamp:      s.nowFn().UTC(),
	}

	if err := s.publisher.Publish(ctx, eventsExchange, routingKey, payload); err != nil {
		s.logger.Warn("failed to publish commission event", "routing_key", routingKey, "error", err)
	}
}
