/**
 * @description
 * Scheduled job implementations wrapping the billing processor and the
 * lifecycle expiry sweep for cron invocation.
 */
package app

import (
	"context"
	"log/slog"
)

// BillingRunner is the slice of the billing processor the jobs invoke.
type BillingRunner interface {
	ProcessDueSubscriptions(ctx context.Context) (*BillingSummary, error)
}

// LifecycleSweeper is the slice of the lifecycle manager the jobs invoke.
type LifecycleSweeper interface {
	ExpireLapsed(ctx context.Context) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	billing BillingRunner
	sweeper LifecycleSweeper
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner.
func NewJobs(billing BillingRunner, sweeper LifecycleSweeper, logger *slog.Logger) *Jobs {
	return &Jobs{billing: billing, sweeper: sweeper, logger: logger}
}

// RunBillingCycle processes all subscriptions due for charge collection.
func (j *Jobs) RunBillingCycle() {
	j.logger.Info("starting billing cycle job")
	ctx := context.Background()

	summary, err := j.billing.ProcessDueSubscriptions(ctx)
	if err != nil {
		j.logger.Error("billing cycle finished with errors", "error", err)
	}
	if summary != nil {
		j.logger.Info("billing cycle job finished",
			"processed", summary.Processed,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	}
}

// RunExpirySweep expires soft-canceled subscriptions past their period end.
func (j *Jobs) RunExpirySweep() {
	j.logger.Info("starting expiry sweep job")
	ctx := context.Background()

	swept, err := j.sweeper.ExpireLapsed(ctx)
	if err != nil {
		j.logger.Error("expiry sweep failed", "error", err)
		return
	}

	j.logger.Info("expiry sweep job finished", "swept", swept)
}
