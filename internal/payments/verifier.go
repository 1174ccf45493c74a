package payments

import (
	"context"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v76"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	stripeclient "github.com/angelmondragon/storefront-checkout/pkg/stripe"
)

const (
	defaultVerifyTimeout     = 10 * time.Second
	defaultVerifyMaxAttempts = 3
	defaultRetryBase         = 200 * time.Millisecond
	maxRetryDelay            = 2 * time.Second
)

type sessionReader interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

type VerifierParams struct {
	Sessions    sessionReader
	Logger      *logger.Logger
	Timeout     time.Duration
	MaxAttempts uint64
	RetryBase   time.Duration
}

// Verifier reads payment state from the processor. It never writes.
type Verifier struct {
	sessions    sessionReader
	logg        *logger.Logger
	timeout     time.Duration
	maxAttempts uint64
	retryBase   time.Duration
	group       singleflight.Group
}

func NewVerifier(params VerifierParams) (*Verifier, error) {
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe session reader is required")
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	attempts := params.MaxAttempts
	if attempts == 0 {
		attempts = defaultVerifyMaxAttempts
	}
	base := params.RetryBase
	if base <= 0 {
		base = defaultRetryBase
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Verifier{
		sessions:    params.Sessions,
		logg:        logg,
		timeout:     timeout,
		maxAttempts: attempts,
		retryBase:   base,
	}, nil
}

// Verify reports whether the session has a completed capture. Concurrent
// calls for the same session share one processor round trip.
func (v *Verifier) Verify(ctx context.Context, sessionID string) (Verification, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Verification{}, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	// The shared call outlives any single caller so one disconnect cannot
	// fail the others waiting on it.
	ch := v.group.DoChan(sessionID, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		return v.fetch(callCtx, sessionID)
	})

	select {
	case <-ctx.Done():
		return Verification{}, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "payment verification interrupted")
	case res := <-ch:
		if res.Err != nil {
			return Verification{}, res.Err
		}
		return res.Val.(Verification), nil
	}
}

func (v *Verifier) fetch(ctx context.Context, sessionID string) (Verification, error) {
	backoff := retry.NewExponential(v.retryBase)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithMaxRetries(v.maxAttempts-1, backoff)

	var session *stripe.CheckoutSession
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := v.sessions.GetCheckoutSession(ctx, sessionID)
		if err == nil {
			session = s
			return nil
		}
		if stripeclient.IsResourceMissing(err) || !stripeclient.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		v.logg.Warn(v.logg.WithFields(ctx, map[string]any{
			"session_id": sessionID,
			"attempt":    attempt,
			"error":      err.Error(),
		}), "stripe session retrieve failed, retrying")
		return retry.RetryableError(err)
	})
	if err != nil {
		if stripeclient.IsResourceMissing(err) {
			return Verification{}, pkgerrors.New(pkgerrors.CodeSessionNotFound, "checkout session not found").
				WithDetails(map[string]any{"session_id": sessionID})
		}
		return Verification{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve checkout session")
	}
	if session == nil {
		return Verification{}, pkgerrors.New(pkgerrors.CodeSessionNotFound, "checkout session not found")
	}

	return fromSession(session)
}

func fromSession(s *stripe.CheckoutSession) (Verification, error) {
	out := Verification{
		SessionID:     s.ID,
		SessionStatus: sessionStatus(s.Status),
		CartID:        metadataValue(s, MetadataCartID),
		Channel:       metadataValue(s, MetadataChannel),
		AmountMinor:   s.AmountTotal,
		Currency:      strings.ToUpper(string(s.Currency)),
	}
	if s.PaymentIntent != nil {
		out.CaptureID = s.PaymentIntent.ID
	}
	if s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return out, nil
	}
	if out.CaptureID == "" {
		return Verification{}, pkgerrors.New(pkgerrors.CodeDependency, "paid session carries no payment intent")
	}

	currency, err := enums.ParseCurrency(string(s.Currency))
	if err != nil {
		return Verification{}, pkgerrors.Wrap(pkgerrors.CodeUnsupportedCurrency, err, "paid session currency not supported")
	}

	proof := &PaymentProof{
		CaptureID:   out.CaptureID,
		SessionID:   s.ID,
		CartID:      out.CartID,
		Channel:     out.Channel,
		AmountMinor: s.AmountTotal,
		Currency:    currency,
	}
	if d := s.CustomerDetails; d != nil {
		proof.Email = d.Email
		proof.Name = d.Name
		proof.Billing = toAddress(d.Name, d.Address)
	}
	if sh := s.ShippingDetails; sh != nil {
		proof.Shipping = toAddress(sh.Name, sh.Address)
	}

	out.Paid = true
	out.Proof = proof
	return out, nil
}

func sessionStatus(status stripe.CheckoutSessionStatus) SessionStatus {
	switch status {
	case stripe.CheckoutSessionStatusComplete:
		return SessionCompleted
	case stripe.CheckoutSessionStatusExpired:
		return SessionExpired
	default:
		return SessionCreated
	}
}

// metadataValue prefers the session's own metadata and falls back to the
// copy stamped on its payment intent.
func metadataValue(s *stripe.CheckoutSession, key string) string {
	if v := strings.TrimSpace(s.Metadata[key]); v != "" {
		return v
	}
	if s.PaymentIntent != nil {
		return strings.TrimSpace(s.PaymentIntent.Metadata[key])
	}
	return ""
}

func toAddress(name string, a *stripe.Address) *Address {
	if a == nil {
		return nil
	}
	return &Address{
		Name:       name,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}
