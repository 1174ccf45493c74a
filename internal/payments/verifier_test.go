package payments

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type fakeSessions struct {
	mu       sync.Mutex
	calls    int32
	results  []fakeResult
	entered  chan struct{}
	release  chan struct{}
	fallback fakeResult
}

type fakeResult struct {
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) GetCheckoutSession(_ context.Context, _ string) (*stripe.CheckoutSession, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return f.fallback.session, f.fallback.err
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res.session, res.err
}

func paidSession(id, capture string) *stripe.CheckoutSession {
	return &stripe.CheckoutSession{
		ID:            id,
		Status:        stripe.CheckoutSessionStatusComplete,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:   2000,
		Currency:      stripe.Currency("usd"),
		Metadata:      map[string]string{MetadataCartID: "C1", MetadataChannel: "default-channel"},
		PaymentIntent: &stripe.PaymentIntent{ID: capture},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "shopper@example.com",
			Name:  "Ada Shopper",
			Address: &stripe.Address{
				Line1:      "1 Main St",
				City:       "Tulsa",
				State:      "OK",
				PostalCode: "74104",
				Country:    "US",
			},
		},
	}
}

func newTestVerifier(t *testing.T, sessions sessionReader) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierParams{
		Sessions:    sessions,
		Timeout:     time.Second,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyPaidReturnsProof(t *testing.T) {
	sessions := &fakeSessions{fallback: fakeResult{session: paidSession("S1", "CAP1")}}
	v := newTestVerifier(t, sessions)

	got, err := v.Verify(context.Background(), "S1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Paid || got.Proof == nil {
		t.Fatalf("expected paid verification, got %+v", got)
	}
	proof := got.Proof
	if proof.CaptureID != "CAP1" || proof.CartID != "C1" || proof.Channel != "default-channel" {
		t.Fatalf("unexpected proof identity %+v", proof)
	}
	if proof.AmountMinor != 2000 || proof.Currency != enums.CurrencyUSD {
		t.Fatalf("unexpected amount %d %s", proof.AmountMinor, proof.Currency)
	}
	if proof.Billing == nil || proof.Billing.City != "Tulsa" || proof.Billing.Name != "Ada Shopper" {
		t.Fatalf("expected billing address, got %+v", proof.Billing)
	}
	if proof.Shipping != nil {
		t.Fatalf("expected no shipping address")
	}
	if got.SessionStatus != SessionCompleted {
		t.Fatalf("unexpected session status %s", got.SessionStatus)
	}
}

func TestVerifyUnpaidIsNotAnError(t *testing.T) {
	session := &stripe.CheckoutSession{
		ID:            "S2",
		Status:        stripe.CheckoutSessionStatusOpen,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata:      map[string]string{MetadataCartID: "C2", MetadataChannel: "default-channel"},
	}
	v := newTestVerifier(t, &fakeSessions{fallback: fakeResult{session: session}})

	for i := 0; i < 3; i++ {
		got, err := v.Verify(context.Background(), "S2")
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if got.Paid || got.Proof != nil {
			t.Fatalf("expected not paid, got %+v", got)
		}
		if got.CartID != "C2" || got.SessionStatus != SessionCreated {
			t.Fatalf("unexpected verification %+v", got)
		}
	}
}

func TestVerifyFallsBackToPaymentIntentMetadata(t *testing.T) {
	session := paidSession("S1", "CAP1")
	session.Metadata = nil
	session.PaymentIntent.Metadata = map[string]string{MetadataCartID: "C9", MetadataChannel: "eu"}
	v := newTestVerifier(t, &fakeSessions{fallback: fakeResult{session: session}})

	got, err := v.Verify(context.Background(), "S1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.CartID != "C9" || got.Channel != "eu" {
		t.Fatalf("expected payment intent metadata, got %+v", got)
	}
}

func TestVerifyUnknownSession(t *testing.T) {
	missing := &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}
	sessions := &fakeSessions{fallback: fakeResult{err: missing}}
	v := newTestVerifier(t, sessions)

	_, err := v.Verify(context.Background(), "S404")
	if !pkgerrors.IsCode(err, pkgerrors.CodeSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
	if calls := atomic.LoadInt32(&sessions.calls); calls != 1 {
		t.Fatalf("missing sessions are not retried, got %d calls", calls)
	}
}

func TestVerifyRetriesTransientFailures(t *testing.T) {
	sessions := &fakeSessions{
		results: []fakeResult{
			{err: &stripe.Error{HTTPStatusCode: http.StatusServiceUnavailable}},
			{err: errors.New("connection reset")},
			{session: paidSession("S1", "CAP1")},
		},
	}
	v := newTestVerifier(t, sessions)

	got, err := v.Verify(context.Background(), "S1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !got.Paid {
		t.Fatalf("expected paid after retries")
	}
	if calls := atomic.LoadInt32(&sessions.calls); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestVerifyGivesUpAfterMaxAttempts(t *testing.T) {
	sessions := &fakeSessions{fallback: fakeResult{err: &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}}}
	v := newTestVerifier(t, sessions)

	_, err := v.Verify(context.Background(), "S1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if calls := atomic.LoadInt32(&sessions.calls); calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestVerifyDoesNotRetryClientErrors(t *testing.T) {
	sessions := &fakeSessions{fallback: fakeResult{err: &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}}}
	v := newTestVerifier(t, sessions)

	if _, err := v.Verify(context.Background(), "S1"); err == nil {
		t.Fatalf("expected error")
	}
	if calls := atomic.LoadInt32(&sessions.calls); calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestVerifyRequiresSessionID(t *testing.T) {
	v := newTestVerifier(t, &fakeSessions{})
	if _, err := v.Verify(context.Background(), "  "); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestVerifyCollapsesConcurrentCalls(t *testing.T) {
	sessions := &fakeSessions{
		fallback: fakeResult{session: paidSession("S1", "CAP1")},
		entered:  make(chan struct{}, 4),
		release:  make(chan struct{}),
	}
	v := newTestVerifier(t, sessions)

	var wg sync.WaitGroup
	results := make(chan Verification, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := v.Verify(context.Background(), "S1")
			if err != nil {
				t.Errorf("verify: %v", err)
				return
			}
			results <- got
		}()
		if i == 0 {
			<-sessions.entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(sessions.release)
	wg.Wait()
	close(results)

	for got := range results {
		if got.CaptureID != "CAP1" {
			t.Fatalf("unexpected capture %q", got.CaptureID)
		}
	}
	if calls := atomic.LoadInt32(&sessions.calls); calls != 1 {
		t.Fatalf("expected one shared processor call, got %d", calls)
	}
}

func TestVerifyOutlivesCanceledCaller(t *testing.T) {
	sessions := &fakeSessions{
		fallback: fakeResult{session: paidSession("S1", "CAP1")},
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	v := newTestVerifier(t, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := v.Verify(ctx, "S1")
		done <- err
	}()
	<-sessions.entered
	cancel()
	if err := <-done; !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected interrupted caller error, got %v", err)
	}
	close(sessions.release)

	got, err := v.Verify(context.Background(), "S1")
	if err != nil || !got.Paid {
		t.Fatalf("expected follow-up verify to succeed, got %+v %v", got, err)
	}
}
