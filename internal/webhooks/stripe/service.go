package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v76"

	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/internal/payments"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	eventCheckoutCompleted      = "checkout.session.completed"
	eventAsyncPaymentSucceeded  = "checkout.session.async_payment_succeeded"
	eventAsyncPaymentFailed     = "checkout.session.async_payment_failed"
	eventCheckoutSessionExpired = "checkout.session.expired"
)

type completer interface {
	Complete(ctx context.Context, trigger completion.Trigger) (completion.Outcome, error)
}

type ServiceParams struct {
	Router completer
	Logger *logger.Logger
}

// Service turns verified Stripe checkout events into completion triggers.
type Service struct {
	router completer
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Router == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "completion router required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{router: params.Router, logg: logg}, nil
}

// HandleEvent returns an error only when Stripe should redeliver the event.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	switch event.Type {
	case eventCheckoutCompleted, eventAsyncPaymentSucceeded:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		return s.complete(ctx, &session)
	case eventCheckoutSessionExpired, eventAsyncPaymentFailed:
		s.logg.Info(ctx, "checkout session ended without payment")
		return nil
	default:
		return nil
	}
}

func (s *Service) complete(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	trigger := completion.Trigger{
		Source:    enums.TriggerWebhook,
		SessionID: session.ID,
		CartID:    session.Metadata[payments.MetadataCartID],
		Channel:   session.Metadata[payments.MetadataChannel],
	}
	if session.PaymentIntent != nil {
		trigger.CaptureID = session.PaymentIntent.ID
	}

	outcome, err := s.router.Complete(ctx, trigger)
	if err != nil {
		if retryable(err) {
			return err
		}
		// Redelivering a forged or unknown session changes nothing.
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout event not actionable")
		return nil
	}

	fields := map[string]any{"outcome": string(outcome.State)}
	if outcome.OrderID != "" {
		fields["order_id"] = outcome.OrderID
	}
	if outcome.FailureCode != "" {
		fields["failure_code"] = outcome.FailureCode
	}
	s.logg.Info(s.logg.WithFields(ctx, fields), "checkout event handled")
	return nil
}

func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}
