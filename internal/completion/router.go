package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/pkg/commerce"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	defaultResponseTimeout   = 8 * time.Second
	defaultClaimWait         = 5 * time.Second
	defaultClaimPollInterval = 250 * time.Millisecond
)

type verifier interface {
	Verify(ctx context.Context, sessionID string) (payments.Verification, error)
}

type materializer interface {
	Materialize(ctx context.Context, record models.ReconciliationRecord, proof payments.PaymentProof) (*commerce.Order, error)
}

type recordStore interface {
	FindByCapture(ctx context.Context, captureID string) (*models.ReconciliationRecord, error)
	FindBySession(ctx context.Context, sessionID string) (*models.ReconciliationRecord, error)
	Ensure(ctx context.Context, record models.ReconciliationRecord) (*models.ReconciliationRecord, bool, error)
	Claim(ctx context.Context, captureID string, token uuid.UUID, source enums.TriggerSource, now time.Time) (bool, error)
}

type completionMetrics interface {
	ObserveCompletion(source, outcome string, elapsed time.Duration)
	IncClaim(won bool)
}

// Router drives every completion trigger through one idempotent state
// machine keyed by capture id.
type Router interface {
	Complete(ctx context.Context, trigger Trigger) (Outcome, error)
}

type RouterParams struct {
	Verifier          verifier
	Materializer      materializer
	Records           recordStore
	Logger            *logger.Logger
	Metrics           completionMetrics
	ResponseTimeout   time.Duration
	ClaimWait         time.Duration
	ClaimPollInterval time.Duration
	Now               func() time.Time
}

type router struct {
	verifier          verifier
	materializer      materializer
	records           recordStore
	logg              *logger.Logger
	metrics           completionMetrics
	responseTimeout   time.Duration
	claimWait         time.Duration
	claimPollInterval time.Duration
	now               func() time.Time
}

type result struct {
	outcome Outcome
	err     error
}

func NewRouter(params RouterParams) (Router, error) {
	if params.Verifier == nil {
		return nil, fmt.Errorf("payment verifier required")
	}
	if params.Materializer == nil {
		return nil, fmt.Errorf("order materializer required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	r := &router{
		verifier:          params.Verifier,
		materializer:      params.Materializer,
		records:           params.Records,
		logg:              params.Logger,
		metrics:           params.Metrics,
		responseTimeout:   params.ResponseTimeout,
		claimWait:         params.ClaimWait,
		claimPollInterval: params.ClaimPollInterval,
		now:               params.Now,
	}
	if r.logg == nil {
		r.logg = logger.Nop()
	}
	if r.responseTimeout <= 0 {
		r.responseTimeout = defaultResponseTimeout
	}
	if r.claimWait <= 0 {
		r.claimWait = defaultClaimWait
	}
	if r.claimPollInterval <= 0 {
		r.claimPollInterval = defaultClaimPollInterval
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r, nil
}

// Complete runs on a context detached from the caller so a disconnect never
// aborts order creation. The caller waits at most the response timeout and
// sees a pending outcome if the work is still in flight.
func (r *router) Complete(ctx context.Context, trigger Trigger) (Outcome, error) {
	if err := trigger.validate(); err != nil {
		return Outcome{}, err
	}
	ctx = r.logg.WithTrigger(ctx, string(trigger.Source))
	if trigger.SessionID != "" {
		ctx = r.logg.WithSessionID(ctx, trigger.SessionID)
	}
	if trigger.CaptureID != "" {
		ctx = r.logg.WithCaptureID(ctx, trigger.CaptureID)
	}

	started := time.Now()
	done := make(chan result, 1)
	go func() {
		outcome, err := r.complete(context.WithoutCancel(ctx), trigger)
		r.observe(trigger.Source, outcome, err, time.Since(started))
		done <- result{outcome: outcome, err: err}
	}()

	timer := time.NewTimer(r.responseTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-timer.C:
		r.logg.Warn(ctx, "completion still running, responding pending")
	case <-ctx.Done():
		r.logg.Warn(ctx, "caller left before completion finished")
	}
	if trigger.Source == enums.TriggerWebhook {
		// Nothing may be persisted yet; the processor must redeliver until a
		// run settles. The capture claim makes the redelivery safe.
		return Outcome{}, pkgerrors.New(pkgerrors.CodeDependency, "completion still running")
	}
	return Outcome{
		State:     StatePending,
		SessionID: trigger.SessionID,
		CaptureID: trigger.CaptureID,
		Channel:   trigger.Channel,
	}, nil
}

func (r *router) complete(ctx context.Context, trigger Trigger) (Outcome, error) {
	record, err := r.lookup(ctx, trigger)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load reconciliation record")
	}
	if record != nil {
		if err := trigger.matches(record.CartID, record.Channel); err != nil {
			return Outcome{}, err
		}
		if record.Status.IsTerminal() {
			return outcomeFromRecord(*record), nil
		}
	}

	sessionID := trigger.SessionID
	if sessionID == "" && record != nil {
		sessionID = record.SessionID
	}
	if sessionID == "" {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	verification, err := r.verifier.Verify(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if err := trigger.matches(verification.CartID, verification.Channel); err != nil {
		r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
			"trigger_cart_id": trigger.CartID,
			"trigger_channel": trigger.Channel,
			"session_cart_id": verification.CartID,
			"session_channel": verification.Channel,
		}), "completion trigger does not match session metadata")
		return Outcome{}, err
	}
	if trigger.CaptureID != "" && verification.CaptureID != "" && trigger.CaptureID != verification.CaptureID {
		return Outcome{}, pkgerrors.New(pkgerrors.CodeValidation, "capture id does not belong to session")
	}

	if !verification.Paid {
		return r.pending(ctx, verification)
	}
	return r.claimAndMaterialize(ctx, trigger.Source, *verification.Proof)
}

func (r *router) lookup(ctx context.Context, trigger Trigger) (*models.ReconciliationRecord, error) {
	if trigger.CaptureID != "" {
		return r.records.FindByCapture(ctx, trigger.CaptureID)
	}
	return r.records.FindBySession(ctx, trigger.SessionID)
}

// pending registers the capture id, when the processor already issued one,
// so the sweeper can re-drive it later.
func (r *router) pending(ctx context.Context, v payments.Verification) (Outcome, error) {
	out := Outcome{
		State:     StatePending,
		SessionID: v.SessionID,
		CaptureID: v.CaptureID,
		Channel:   v.Channel,
	}
	if v.CaptureID == "" {
		return out, nil
	}
	stored, _, err := r.records.Ensure(ctx, models.ReconciliationRecord{
		CaptureID:   v.CaptureID,
		SessionID:   v.SessionID,
		CartID:      v.CartID,
		Channel:     v.Channel,
		AmountMinor: v.AmountMinor,
		Currency:    v.Currency,
	})
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to register pending capture")
	}
	if stored.Status.IsTerminal() {
		return outcomeFromRecord(*stored), nil
	}
	r.logg.Info(r.logg.WithCaptureID(ctx, v.CaptureID), "payment not completed yet")
	return out, nil
}

func (r *router) claimAndMaterialize(ctx context.Context, source enums.TriggerSource, proof payments.PaymentProof) (Outcome, error) {
	ctx = r.logg.WithCaptureID(ctx, proof.CaptureID)
	stored, _, err := r.records.Ensure(ctx, models.ReconciliationRecord{
		CaptureID:   proof.CaptureID,
		SessionID:   proof.SessionID,
		CartID:      proof.CartID,
		Channel:     proof.Channel,
		AmountMinor: proof.AmountMinor,
		Currency:    proof.Currency.String(),
	})
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to ensure reconciliation record")
	}
	if stored.Status.IsTerminal() {
		return outcomeFromRecord(*stored), nil
	}

	token := uuid.New()
	now := r.now()
	won, err := r.records.Claim(ctx, proof.CaptureID, token, source, now)
	if err != nil {
		return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to claim reconciliation record")
	}
	if r.metrics != nil {
		r.metrics.IncClaim(won)
	}
	if !won {
		r.logg.Info(ctx, "claim held by another trigger, waiting for settlement")
		return r.awaitSettlement(ctx, proof.CaptureID)
	}

	claimed := *stored
	claimed.Status = enums.ReconciliationProofConfirmed
	claimed.ClaimToken = &token
	claimed.ClaimedBy = &source
	claimed.ClaimedAt = &now

	order, err := r.materializer.Materialize(ctx, claimed, proof)
	if err == nil {
		return Outcome{
			State:     StateOrderCreated,
			OrderID:   order.ID,
			SessionID: proof.SessionID,
			CaptureID: proof.CaptureID,
			Channel:   proof.Channel,
		}, nil
	}

	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeOrderCreation):
		return r.failedOutcome(ctx, claimed, err), nil
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		return r.awaitSettlement(ctx, proof.CaptureID)
	}
	return Outcome{}, err
}

// failedOutcome prefers the stored failure so every later trigger reports
// the same code and reason.
func (r *router) failedOutcome(ctx context.Context, record models.ReconciliationRecord, cause error) Outcome {
	if stored, err := r.records.FindByCapture(ctx, record.CaptureID); err == nil && stored != nil && stored.Status == enums.ReconciliationFailed {
		return outcomeFromRecord(*stored)
	}
	out := Outcome{
		State:     StateFailed,
		SessionID: record.SessionID,
		CaptureID: record.CaptureID,
		Channel:   record.Channel,
	}
	if typed := pkgerrors.As(cause); typed != nil {
		if details, ok := typed.Details().(map[string]any); ok {
			out.FailureCode, _ = details["failure_code"].(string)
			out.FailureReason, _ = details["failure_reason"].(string)
		}
	}
	return out
}

// awaitSettlement polls the record until the claim holder settles it or the
// claim wait elapses.
func (r *router) awaitSettlement(ctx context.Context, captureID string) (Outcome, error) {
	deadline := time.NewTimer(r.claimWait)
	defer deadline.Stop()
	ticker := time.NewTicker(r.claimPollInterval)
	defer ticker.Stop()

	var last *models.ReconciliationRecord
	for {
		record, err := r.records.FindByCapture(ctx, captureID)
		if err != nil {
			return Outcome{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "failed to load reconciliation record")
		}
		if record != nil {
			last = record
			if record.Status.IsTerminal() {
				return outcomeFromRecord(*record), nil
			}
		}
		select {
		case <-deadline.C:
			out := Outcome{State: StatePending, CaptureID: captureID}
			if last != nil {
				out.SessionID = last.SessionID
				out.Channel = last.Channel
			}
			return out, nil
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *router) observe(source enums.TriggerSource, outcome Outcome, err error, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	label := string(outcome.State)
	if err != nil {
		label = "error"
	}
	r.metrics.ObserveCompletion(string(source), label, elapsed)
}
