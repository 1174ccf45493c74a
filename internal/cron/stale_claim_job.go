package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

const (
	defaultStaleClaimAfter = 10 * time.Minute
	defaultBatchSize       = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type staleClaimStore interface {
	ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]models.ReconciliationRecord, error)
	MarkAlertedTx(ctx context.Context, tx *gorm.DB, captureID string, now time.Time) (bool, error)
}

type alertEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

type StaleClaimJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Records    staleClaimStore
	Outbox     alertEmitter
	StaleAfter time.Duration
	BatchSize  int
}

// staleClaimJob surfaces captures whose claim holder never settled them:
// a crashed worker or a backend order the local record does not know about.
type staleClaimJob struct {
	logg       *logger.Logger
	db         txRunner
	records    staleClaimStore
	outbox     alertEmitter
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewStaleClaimJob(params StaleClaimJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox required")
	}
	job := &staleClaimJob{
		logg:       params.Logger,
		db:         params.DB,
		records:    params.Records,
		outbox:     params.Outbox,
		staleAfter: params.StaleAfter,
		batchSize:  params.BatchSize,
		now:        time.Now,
	}
	if job.staleAfter <= 0 {
		job.staleAfter = defaultStaleClaimAfter
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultBatchSize
	}
	return job, nil
}

func (j *staleClaimJob) Name() string { return "stale-claim" }

func (j *staleClaimJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	records, err := j.records.ListStaleClaims(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale claims: %w", err)
	}

	var errs error
	alerted := 0
	for _, record := range records {
		ok, err := j.alert(ctx, record, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("alert %s: %w", record.CaptureID, err))
			continue
		}
		if ok {
			alerted++
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"stale":   len(records),
		"alerted": alerted,
	}), "stale claim sweep complete")
	return errs
}

func (j *staleClaimJob) alert(ctx context.Context, record models.ReconciliationRecord, now time.Time) (bool, error) {
	var emitted bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		marked, err := j.records.MarkAlertedTx(ctx, tx, record.CaptureID, now)
		if err != nil || !marked {
			return err
		}
		event := payloads.ClaimStaleEvent{
			CaptureID: record.CaptureID,
			SessionID: record.SessionID,
		}
		if record.ClaimedBy != nil {
			event.ClaimedBy = string(*record.ClaimedBy)
		}
		if record.ClaimedAt != nil {
			event.ClaimedAt = *record.ClaimedAt
			event.StaleFor = now.Sub(*record.ClaimedAt).Round(time.Second).String()
		}
		emitted, err = j.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventClaimStale,
			AggregateType: enums.AggregateReconciliation,
			AggregateID:   record.CaptureID,
			Source:        j.Name(),
			OccurredAt:    now,
			Data:          event,
		})
		return err
	})
	if err == nil && emitted {
		j.logg.Warn(j.logg.WithCaptureID(ctx, record.CaptureID), "claim stale, operator alerted")
	}
	return emitted, err
}
