package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/pkg/commerce"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox/payloads"
)

const (
	defaultMaterializeTimeout = 30 * time.Second
	defaultPreSendAttempts    = 3
	defaultPreSendBase        = 250 * time.Millisecond
	maxPreSendDelay           = 2 * time.Second
)

// Materialization results reported to metrics.
const (
	ResultCreated   = "created"
	ResultRejected  = "rejected"
	ResultUnknown   = "outcome_unknown"
	ResultNotSent   = "not_sent"
	ResultClaimLost = "claim_lost"
	ResultDiverged  = "diverged"
)

type orderCreator interface {
	CreateOrder(ctx context.Context, input commerce.OrderInput) (*commerce.Order, error)
}

type recordStore interface {
	FindByCapture(ctx context.Context, captureID string) (*models.ReconciliationRecord, error)
	MarkOrderCreatedTx(ctx context.Context, tx *gorm.DB, captureID string, token uuid.UUID, orderID string, now time.Time) (bool, error)
	MarkFailedTx(ctx context.Context, tx *gorm.DB, captureID string, token uuid.UUID, code enums.FailureCode, reason string, now time.Time) (bool, error)
	Release(ctx context.Context, captureID string, token uuid.UUID, now time.Time) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type resultRecorder interface {
	IncMaterialization(result string)
}

// Service turns confirmed payment proof into exactly one commerce order.
type Service interface {
	Materialize(ctx context.Context, record models.ReconciliationRecord, proof payments.PaymentProof) (*commerce.Order, error)
}

type ServiceParams struct {
	Orders          orderCreator
	Records         recordStore
	Tx              txRunner
	Outbox          outboxPublisher
	Logger          *logger.Logger
	Metrics         resultRecorder
	Timeout         time.Duration
	PreSendAttempts uint64
	PreSendBase     time.Duration
	Now             func() time.Time
}

type service struct {
	orders          orderCreator
	records         recordStore
	tx              txRunner
	outbox          outboxPublisher
	logg            *logger.Logger
	metrics         resultRecorder
	timeout         time.Duration
	preSendAttempts uint64
	preSendBase     time.Duration
	now             func() time.Time
}

var errClaimLost = errors.New("claim no longer held")

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	s := &service{
		orders:          params.Orders,
		records:         params.Records,
		tx:              params.Tx,
		outbox:          params.Outbox,
		logg:            params.Logger,
		metrics:         params.Metrics,
		timeout:         params.Timeout,
		preSendAttempts: params.PreSendAttempts,
		preSendBase:     params.PreSendBase,
		now:             params.Now,
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.timeout <= 0 {
		s.timeout = defaultMaterializeTimeout
	}
	if s.preSendAttempts == 0 {
		s.preSendAttempts = defaultPreSendAttempts
	}
	if s.preSendBase <= 0 {
		s.preSendBase = defaultPreSendBase
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Materialize requires record to carry the caller's claim token. The stored
// row is re-read so a caller that does not hold the claim never reaches the
// backend.
func (s *service) Materialize(ctx context.Context, record models.ReconciliationRecord, proof payments.PaymentProof) (*commerce.Order, error) {
	if record.ClaimToken == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "materialize requires a claim token")
	}
	token := *record.ClaimToken
	if proof.CaptureID != record.CaptureID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment proof does not match record").
			WithDetails(map[string]any{"record_capture_id": record.CaptureID, "proof_capture_id": proof.CaptureID})
	}
	ctx = s.logg.WithCaptureID(ctx, record.CaptureID)

	if err := s.ensureClaim(ctx, record.CaptureID, token); err != nil {
		s.record(ResultClaimLost)
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "record is not claimed by caller")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	order, err := s.createWithPreSendRetry(callCtx, record, token, buildInput(record, proof))
	switch {
	case err == nil:
		return s.settleCreated(ctx, record, token, order)
	case errors.Is(err, errClaimLost):
		s.record(ResultClaimLost)
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "claim lost before order creation")
	}

	if rej, ok := commerce.AsRejection(err); ok {
		s.record(ResultRejected)
		return nil, s.settleFailed(ctx, record, token, enums.FailureBackendRejected, rej.Reason, err)
	}
	if commerce.IsAmbiguous(err) {
		s.record(ResultUnknown)
		return nil, s.settleFailed(ctx, record, token, enums.FailureOutcomeUnknown, err.Error(), err)
	}

	// The backend never saw the request; hand the capture back so a later
	// trigger or the sweeper can claim it again.
	s.record(ResultNotSent)
	if released, relErr := s.records.Release(ctx, record.CaptureID, token, s.now()); relErr != nil || !released {
		s.logg.Error(s.logg.WithField(ctx, "released", released), "failed to release claim after unsent order request", relErr)
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commerce backend unavailable")
}

func (s *service) ensureClaim(ctx context.Context, captureID string, token uuid.UUID) error {
	stored, err := s.records.FindByCapture(ctx, captureID)
	if err != nil {
		return err
	}
	if stored == nil || !stored.HoldsClaim(token) {
		return errClaimLost
	}
	return nil
}

func (s *service) createWithPreSendRetry(ctx context.Context, record models.ReconciliationRecord, token uuid.UUID, input commerce.OrderInput) (*commerce.Order, error) {
	backoff := retry.NewExponential(s.preSendBase)
	backoff = retry.WithCappedDuration(maxPreSendDelay, backoff)
	backoff = retry.WithMaxRetries(s.preSendAttempts-1, backoff)

	var order *commerce.Order
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			if err := s.ensureClaim(ctx, record.CaptureID, token); err != nil {
				return err
			}
		}
		created, err := s.orders.CreateOrder(ctx, input)
		if err == nil {
			order = created
			return nil
		}
		if commerce.IsNotSent(err) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"attempt": attempt,
				"error":   err.Error(),
			}), "order request not sent, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		var te *commerce.TransportError
		if !errors.As(err, &te) && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			// Deadline hit while waiting between attempts; nothing was sent.
			return nil, &commerce.TransportError{Err: err}
		}
		return nil, err
	}
	return order, nil
}

func (s *service) settleCreated(ctx context.Context, record models.ReconciliationRecord, token uuid.UUID, order *commerce.Order) (*commerce.Order, error) {
	now := s.now()
	ctx = s.logg.WithOrderID(ctx, order.ID)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.records.MarkOrderCreatedTx(ctx, tx, record.CaptureID, token, order.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderMaterialized,
			AggregateType: enums.AggregateReconciliation,
			AggregateID:   record.CaptureID,
			Source:        claimSource(record),
			OccurredAt:    now,
			Data: payloads.OrderMaterializedEvent{
				CaptureID:   record.CaptureID,
				SessionID:   record.SessionID,
				CartID:      record.CartID,
				Channel:     record.Channel,
				OrderID:     order.ID,
				AmountMinor: record.AmountMinor,
				Currency:    record.Currency,
				ClaimedBy:   claimSource(record),
				CreatedAt:   now,
			},
		})
	})
	if err == nil {
		s.record(ResultCreated)
		s.logg.Info(ctx, "order materialized")
		return order, nil
	}

	// The backend holds an order the local record does not know about. The
	// order id is still returned so the caller can show it; the record stays
	// proof_confirmed until an operator settles it.
	s.record(ResultDiverged)
	s.logg.Error(ctx, "order created but reconciliation record not updated", err)
	alertErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReconciliationDiverge,
			AggregateType: enums.AggregateReconciliation,
			AggregateID:   record.CaptureID,
			Source:        claimSource(record),
			Data: payloads.ReconciliationDivergedEvent{
				CaptureID: record.CaptureID,
				SessionID: record.SessionID,
				OrderID:   order.ID,
				Error:     err.Error(),
			},
		})
	})
	if alertErr != nil {
		s.logg.Error(ctx, "failed to emit divergence alert", alertErr)
	}
	return order, nil
}

func (s *service) settleFailed(ctx context.Context, record models.ReconciliationRecord, token uuid.UUID, code enums.FailureCode, reason string, cause error) error {
	now := s.now()
	ctx = s.logg.WithField(ctx, "failure_code", string(code))

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.records.MarkFailedTx(ctx, tx, record.CaptureID, token, code, reason, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreationFailed,
			AggregateType: enums.AggregateReconciliation,
			AggregateID:   record.CaptureID,
			Source:        claimSource(record),
			OccurredAt:    now,
			Data: payloads.OrderCreationFailedEvent{
				CaptureID:     record.CaptureID,
				SessionID:     record.SessionID,
				CartID:        record.CartID,
				Channel:       record.Channel,
				FailureCode:   string(code),
				FailureReason: reason,
				AmountMinor:   record.AmountMinor,
				Currency:      record.Currency,
			},
		})
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record order creation failure", err)
	} else {
		s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "order creation failed, operator alerted")
	}

	return pkgerrors.Wrap(pkgerrors.CodeOrderCreation, cause, "order creation failed").
		WithDetails(map[string]any{
			"capture_id":     record.CaptureID,
			"failure_code":   string(code),
			"failure_reason": reason,
		})
}

func (s *service) record(result string) {
	if s.metrics != nil {
		s.metrics.IncMaterialization(result)
	}
}

func claimSource(record models.ReconciliationRecord) string {
	if record.ClaimedBy == nil {
		return ""
	}
	return string(*record.ClaimedBy)
}

func buildInput(record models.ReconciliationRecord, proof payments.PaymentProof) commerce.OrderInput {
	input := commerce.OrderInput{
		CheckoutID: record.CartID,
		Channel:    record.Channel,
		UserEmail:  proof.Email,
		Metadata: []commerce.MetadataItem{
			{Key: commerce.MetadataPaymentID, Value: proof.CaptureID},
		},
		BillingAddress:  toAddressInput(proof.Billing),
		ShippingAddress: toAddressInput(proof.Shipping),
	}
	if proof.SessionID != "" {
		input.Metadata = append(input.Metadata, commerce.MetadataItem{Key: commerce.MetadataSessionID, Value: proof.SessionID})
	}
	return input
}

func toAddressInput(a *payments.Address) *commerce.AddressInput {
	if a == nil {
		return nil
	}
	first, last := splitName(a.Name)
	return &commerce.AddressInput{
		FirstName:      first,
		LastName:       last,
		StreetAddress1: a.Line1,
		StreetAddress2: a.Line2,
		City:           a.City,
		CountryArea:    a.State,
		PostalCode:     a.PostalCode,
		Country:        a.Country,
	}
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}
