package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const defaultReverifyAfter = 5 * time.Minute

type pendingStore interface {
	ListPendingVerification(ctx context.Context, cutoff time.Time, limit int) ([]models.ReconciliationRecord, error)
	Touch(ctx context.Context, captureID string, now time.Time) error
}

type completer interface {
	Complete(ctx context.Context, trigger completion.Trigger) (completion.Outcome, error)
}

type PendingVerificationJobParams struct {
	Logger        *logger.Logger
	Records       pendingStore
	Router        completer
	ReverifyAfter time.Duration
	BatchSize     int
}

// pendingVerificationJob is the third completion trigger: it re-drives
// captures nobody finished, e.g. a webhook that never arrived or a claim
// released after the commerce backend was unreachable.
type pendingVerificationJob struct {
	logg          *logger.Logger
	records       pendingStore
	router        completer
	reverifyAfter time.Duration
	batchSize     int
	now           func() time.Time
}

func NewPendingVerificationJob(params PendingVerificationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	if params.Router == nil {
		return nil, fmt.Errorf("completion router required")
	}
	job := &pendingVerificationJob{
		logg:          params.Logger,
		records:       params.Records,
		router:        params.Router,
		reverifyAfter: params.ReverifyAfter,
		batchSize:     params.BatchSize,
		now:           time.Now,
	}
	if job.reverifyAfter <= 0 {
		job.reverifyAfter = defaultReverifyAfter
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultBatchSize
	}
	return job, nil
}

func (j *pendingVerificationJob) Name() string { return "pending-verification" }

func (j *pendingVerificationJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	records, err := j.records.ListPendingVerification(ctx, now.Add(-j.reverifyAfter), j.batchSize)
	if err != nil {
		return fmt.Errorf("list pending verification: %w", err)
	}

	var errs error
	counts := map[completion.State]int{}
	for _, record := range records {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		outcome, err := j.router.Complete(ctx, completion.Trigger{
			Source:    enums.TriggerSweeper,
			SessionID: record.SessionID,
			CaptureID: record.CaptureID,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("complete %s: %w", record.CaptureID, err))
			continue
		}
		counts[outcome.State]++
		if outcome.State == completion.StatePending {
			if err := j.records.Touch(ctx, record.CaptureID, j.now().UTC()); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("touch %s: %w", record.CaptureID, err))
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates":    len(records),
		"order_created": counts[completion.StateOrderCreated],
		"failed":        counts[completion.StateFailed],
		"pending":       counts[completion.StatePending],
	}), "pending verification sweep complete")
	return errs
}
