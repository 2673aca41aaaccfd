package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

type billingRepoStub struct {
	due         []domain.Subscription
	listErr     error
	unclaimable map[string]bool
	claimErr    map[string]error
	claims      []string
	releases    []string
}

func (s *billingRepoStub) ListDueSubscriptions(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	return s.due, s.listErr
}

func (s *billingRepoStub) ClaimForBilling(ctx context.Context, id string, now, leaseUntil time.Time) (*domain.Subscription, error) {
	if err := s.claimErr[id]; err != nil {
		return nil, err
	}
	if s.unclaimable[id] {
		return nil, nil
	}
	s.claims = append(s.claims, id)
	for _, sub := range s.due {
		if sub.ID == id {
			copied := sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *billingRepoStub) ReleaseBillingClaim(ctx context.Context, id string) error {
	s.releases = append(s.releases, id)
	return nil
}

type applierStub struct {
	succeeded []string
	failed    []string
	// errs returns the error for the nth apply call against a subscription,
	// letting tests script a conflict on the first try and success on the retry.
	errs  map[string][]error
	calls map[string]int
}

func newApplierStub() *applierStub {
	return &applierStub{errs: make(map[string][]error), calls: make(map[string]int)}
}

func (a *applierStub) nextErr(subID string) error {
	n := a.calls[subID]
	a.calls[subID] = n + 1
	if seq := a.errs[subID]; n < len(seq) {
		return seq[n]
	}
	return nil
}

func (a *applierStub) ApplySuccessfulCharge(ctx context.Context, subID string, chargedAmount int64, providerRef string, ts time.Time) (*domain.Subscription, error) {
	if err := a.nextErr(subID); err != nil {
		return nil, err
	}
	a.succeeded = append(a.succeeded, subID)
	return &domain.Subscription{ID: subID, Status: domain.StatusActive, Amount: chargedAmount}, nil
}

func (a *applierStub) ApplyFailedCharge(ctx context.Context, subID string, ts time.Time, reason string) (*domain.Subscription, error) {
	if err := a.nextErr(subID); err != nil {
		return nil, err
	}
	a.failed = append(a.failed, subID)
	return &domain.Subscription{ID: subID, Status: domain.StatusPastDue}, nil
}

type paymentStub struct {
	declined map[string]error
	charges  []string
}

func (p *paymentStub) Charge(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	id := metadata["subscription_id"]
	if id == "" {
		id = metadata["purchase_id"]
	}
	p.charges = append(p.charges, id)
	if err := p.declined[id]; err != nil {
		return "", err
	}
	return "chg_" + id, nil
}

func dueSubscriptions(ids ...string) []domain.Subscription {
	subs := make([]domain.Subscription, 0, len(ids))
	for _, id := range ids {
		sub := activeSubscription(id, time.Now().UTC().Add(-time.Hour))
		subs = append(subs, sub)
	}
	return subs
}

func TestProcessDueSubscriptions_SummaryCountsOutcomes(t *testing.T) {
	repo := &billingRepoStub{due: dueSubscriptions("sub-1", "sub-2", "sub-3")}
	applier := newApplierStub()
	payments := &paymentStub{declined: map[string]error{"sub-2": errors.New("card declined")}}
	processor := NewBillingProcessor(repo, applier, payments, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueSubscriptions returned error: %v", err)
	}

	if summary.Processed != 3 || summary.Succeeded != 2 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(applier.succeeded) != 2 {
		t.Errorf("expected 2 successful outcomes applied, got %v", applier.succeeded)
	}
	if len(applier.failed) != 1 || applier.failed[0] != "sub-2" {
		t.Errorf("expected failed outcome applied to sub-2, got %v", applier.failed)
	}
}

func TestProcessDueSubscriptions_SkipsSubscriptionsHeldByAnotherRun(t *testing.T) {
	repo := &billingRepoStub{
		due:         dueSubscriptions("sub-1", "sub-2"),
		unclaimable: map[string]bool{"sub-1": true},
	}
	applier := newApplierStub()
	payments := &paymentStub{}
	processor := NewBillingProcessor(repo, applier, payments, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueSubscriptions returned error: %v", err)
	}

	if summary.Skipped != 1 || summary.Processed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, id := range payments.charges {
		if id == "sub-1" {
			t.Fatalf("skipped subscription must never be charged")
		}
	}
}

func TestProcessDueSubscriptions_OneFailureDoesNotAbortTheBatch(t *testing.T) {
	repo := &billingRepoStub{
		due:      dueSubscriptions("sub-1", "sub-2", "sub-3"),
		claimErr: map[string]error{"sub-1": errors.New("connection reset")},
	}
	applier := newApplierStub()
	payments := &paymentStub{}
	processor := NewBillingProcessor(repo, applier, payments, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err == nil {
		t.Fatalf("expected the claim error to surface in the returned error")
	}
	if summary == nil || summary.Processed != 2 || summary.Succeeded != 2 {
		t.Fatalf("remaining subscriptions should still be processed, got %+v", summary)
	}
}

func TestProcessDueSubscriptions_RetriesOnceOnVersionConflict(t *testing.T) {
	repo := &billingRepoStub{due: dueSubscriptions("sub-1")}
	applier := newApplierStub()
	applier.errs["sub-1"] = []error{store.ErrConflict}
	payments := &paymentStub{}
	processor := NewBillingProcessor(repo, applier, payments, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("ProcessDueSubscriptions returned error: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if applier.calls["sub-1"] != 2 {
		t.Fatalf("expected one retry after the conflict, got %d apply calls", applier.calls["sub-1"])
	}
}

func TestProcessDueSubscriptions_DropsOutcomeWhenCanceledMidCharge(t *testing.T) {
	repo := &billingRepoStub{due: dueSubscriptions("sub-1")}
	applier := newApplierStub()
	applier.errs["sub-1"] = []error{ErrInvalidState}
	payments := &paymentStub{}
	processor := NewBillingProcessor(repo, applier, payments, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("a dropped outcome is not a run failure, got: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(repo.releases) != 1 || repo.releases[0] != "sub-1" {
		t.Fatalf("expected the billing claim to be released, got %v", repo.releases)
	}
	if len(applier.succeeded) != 0 {
		t.Fatalf("outcome must not be applied to a non-chargeable subscription")
	}
}

func TestProcessDueSubscriptions_ListErrorAbortsRun(t *testing.T) {
	repo := &billingRepoStub{listErr: errors.New("db down")}
	processor := NewBillingProcessor(repo, newApplierStub(), &paymentStub{}, testLogger(), time.Minute)

	summary, err := processor.ProcessDueSubscriptions(context.Background())
	if err == nil || summary != nil {
		t.Fatalf("expected nil summary and an error, got %+v, %v", summary, err)
	}
}
