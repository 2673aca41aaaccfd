package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

type commissionRepoStub struct {
	programs        map[string]domain.AffiliateProgram
	programByUser   map[string]string
	referrerOf      map[string]string
	created         []domain.AffiliateCommission
	commissions     map[string]domain.AffiliateCommission
	transitionCalls []string
}

func newCommissionRepoStub() *commissionRepoStub {
	return &commissionRepoStub{
		programs:      make(map[string]domain.AffiliateProgram),
		programByUser: make(map[string]string),
		referrerOf:    make(map[string]string),
		commissions:   make(map[string]domain.AffiliateCommission),
	}
}

func (s *commissionRepoStub) addProgram(id, ownerID string, rateBps int) {
	s.programs[id] = domain.AffiliateProgram{ID: id, UserID: ownerID, CommissionRateBps: rateBps}
	s.programByUser[ownerID] = id
}

func (s *commissionRepoStub) GetProgramByUserID(ctx context.Context, userID string) (*domain.AffiliateProgram, error) {
	id, ok := s.programByUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	program := s.programs[id]
	return &program, nil
}

func (s *commissionRepoStub) GetProgramByReferredUser(ctx context.Context, referredUserID string) (*domain.AffiliateProgram, error) {
	id, ok := s.referrerOf[referredUserID]
	if !ok {
		return nil, store.ErrNotFound
	}
	program := s.programs[id]
	return &program, nil
}

func (s *commissionRepoStub) CreateCommission(ctx context.Context, c *domain.AffiliateCommission) (*domain.AffiliateCommission, error) {
	created := *c
	created.ID = "com-" + created.ReferredUserID
	created.Status = domain.CommissionPending
	s.created = append(s.created, created)
	s.commissions[created.ID] = created
	return &created, nil
}

func (s *commissionRepoStub) ApproveCommission(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error) {
	s.transitionCalls = append(s.transitionCalls, "approve:"+id)
	c, ok := s.commissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Status != domain.CommissionPending {
		return nil, store.ErrInvalidTransition
	}
	c.Status = domain.CommissionApproved
	s.commissions[id] = c
	return &c, nil
}

func (s *commissionRepoStub) MarkCommissionPaid(ctx context.Context, id string, now time.Time) (*domain.AffiliateCommission, error) {
	s.transitionCalls = append(s.transitionCalls, "pay:"+id)
	c, ok := s.commissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if c.Status != domain.CommissionApproved {
		return nil, store.ErrInvalidTransition
	}
	c.Status = domain.CommissionPaid
	s.commissions[id] = c
	return &c, nil
}

func (s *commissionRepoStub) ListCommissionsByProgram(ctx context.Context, programID string, limit int) ([]domain.AffiliateCommission, error) {
	var out []domain.AffiliateCommission
	for _, c := range s.commissions {
		if c.ProgramID == programID {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestRecordSubscriptionActivation_ComputesRateOnChargedAmount(t *testing.T) {
	repo := newCommissionRepoStub()
	repo.addProgram("prog-1", "affiliate-1", 500) // 5%
	repo.referrerOf["user-1"] = "prog-1"
	service := NewCommissionService(repo, nil, testLogger())

	if err := service.RecordSubscriptionActivation(context.Background(), "user-1", 4900, "USD"); err != nil {
		t.Fatalf("RecordSubscriptionActivation returned error: %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected one commission, got %d", len(repo.created))
	}
	c := repo.created[0]
	if c.Amount != 245 {
		t.Errorf("expected 5%% of 4900 = 245, got %d", c.Amount)
	}
	if c.Type != domain.CommissionSubscriptionActivation || c.Status != domain.CommissionPending {
		t.Errorf("unexpected commission %+v", c)
	}
}

func TestRecordSubscriptionActivation_NotReferredIsNoOp(t *testing.T) {
	repo := newCommissionRepoStub()
	service := NewCommissionService(repo, nil, testLogger())

	if err := service.RecordSubscriptionActivation(context.Background(), "user-1", 4900, "USD"); err != nil {
		t.Fatalf("expected no-op for unreferred user, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("no commission should be created for an unreferred user")
	}
}

func TestRecordSubscriptionActivation_ZeroAmountIsNoOp(t *testing.T) {
	repo := newCommissionRepoStub()
	repo.addProgram("prog-1", "affiliate-1", 1) // 0.01% of small charges rounds to zero
	repo.referrerOf["user-1"] = "prog-1"
	service := NewCommissionService(repo, nil, testLogger())

	if err := service.RecordSubscriptionActivation(context.Background(), "user-1", 100, "USD"); err != nil {
		t.Fatalf("expected no-op for zero-amount commission, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("zero-amount commissions must not be recorded")
	}
}

func TestRecordVerifiedAccountOpening_RequiresPositiveDeposit(t *testing.T) {
	service := NewCommissionService(newCommissionRepoStub(), nil, testLogger())

	if _, err := service.RecordVerifiedAccountOpening(context.Background(), "user-1", 0, "USD"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for zero deposit, got %v", err)
	}
}

func TestRecordVerifiedAccountOpening_CreatesFromVerifiedDeposit(t *testing.T) {
	repo := newCommissionRepoStub()
	repo.addProgram("prog-1", "affiliate-1", 250) // 2.5%
	repo.referrerOf["user-1"] = "prog-1"
	service := NewCommissionService(repo, nil, testLogger())

	created, err := service.RecordVerifiedAccountOpening(context.Background(), "user-1", 100000, "USD")
	if err != nil {
		t.Fatalf("RecordVerifiedAccountOpening returned error: %v", err)
	}
	if created.Amount != 2500 {
		t.Errorf("expected 2.5%% of 100000 = 2500, got %d", created.Amount)
	}
	if created.Type != domain.CommissionAccountOpening {
		t.Errorf("unexpected commission type %s", created.Type)
	}
}

func TestCommissionTransitions_AreMonotonic(t *testing.T) {
	repo := newCommissionRepoStub()
	repo.addProgram("prog-1", "affiliate-1", 500)
	repo.referrerOf["user-1"] = "prog-1"
	service := NewCommissionService(repo, nil, testLogger())

	created, err := service.RecordVerifiedAccountOpening(context.Background(), "user-1", 10000, "USD")
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	// Paying before approval is rejected.
	if _, err := service.MarkPaid(context.Background(), created.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition paying a pending commission, got %v", err)
	}

	approved, err := service.Approve(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != domain.CommissionApproved {
		t.Fatalf("expected approved status, got %s", approved.Status)
	}

	// Approving twice is rejected.
	if _, err := service.Approve(context.Background(), created.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double approval, got %v", err)
	}

	paid, err := service.MarkPaid(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("MarkPaid returned error: %v", err)
	}
	if paid.Status != domain.CommissionPaid {
		t.Fatalf("expected paid status, got %s", paid.Status)
	}
}

func TestListForAffiliate_UnknownProgramReturnsNotFound(t *testing.T) {
	service := NewCommissionService(newCommissionRepoStub(), nil, testLogger())

	if _, err := service.ListForAffiliate(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store.ErrNotFound, got %v", err)
	}
}
