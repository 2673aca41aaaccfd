package app

import (
	"context"
	"errors"
	"testing"
)

type billingRunnerStub struct {
	runs    int
	summary *BillingSummary
	err     error
}

func (s *billingRunnerStub) ProcessDueSubscriptions(ctx context.Context) (*BillingSummary, error) {
	s.runs++
	return s.summary, s.err
}

type sweeperStub struct {
	runs int
	err  error
}

func (s *sweeperStub) ExpireLapsed(ctx context.Context) (int64, error) {
	s.runs++
	return 2, s.err
}

func TestRunBillingCycle_InvokesProcessor(t *testing.T) {
	billing := &billingRunnerStub{summary: &BillingSummary{Processed: 1, Succeeded: 1}}
	jobs := NewJobs(billing, &sweeperStub{}, testLogger())

	jobs.RunBillingCycle()

	if billing.runs != 1 {
		t.Fatalf("expected one processor run, got %d", billing.runs)
	}
}

func TestRunBillingCycle_SurvivesProcessorErrors(t *testing.T) {
	billing := &billingRunnerStub{err: errors.New("db down")}
	jobs := NewJobs(billing, &sweeperStub{}, testLogger())

	// Must not panic; cron keeps invoking the job on schedule.
	jobs.RunBillingCycle()
}

func TestRunExpirySweep_InvokesSweeper(t *testing.T) {
	sweeper := &sweeperStub{}
	jobs := NewJobs(&billingRunnerStub{}, sweeper, testLogger())

	jobs.RunExpirySweep()

	if sweeper.runs != 1 {
		t.Fatalf("expected one sweep, got %d", sweeper.runs)
	}
}
