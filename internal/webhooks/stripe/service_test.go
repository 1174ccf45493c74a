package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/angelmondragon/storefront-checkout/internal/completion"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

type fakeRouter struct {
	triggers []completion.Trigger
	outcome  completion.Outcome
	err      error
}

func (f *fakeRouter) Complete(_ context.Context, trigger completion.Trigger) (completion.Outcome, error) {
	f.triggers = append(f.triggers, trigger)
	return f.outcome, f.err
}

func checkoutEvent(t *testing.T, eventType string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"object":         "checkout.session",
				"payment_status": "paid",
				"payment_intent": "pi_CAP1",
				"metadata": map[string]string{
					"checkoutId": "C1",
					"channel":    "default-channel",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &event
}

func newTestService(t *testing.T, router *fakeRouter) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Router: router})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return svc
}

func TestHandleEventTriggersCompletion(t *testing.T) {
	for _, eventType := range []string{eventCheckoutCompleted, eventAsyncPaymentSucceeded} {
		router := &fakeRouter{outcome: completion.Outcome{State: completion.StateOrderCreated, OrderID: "O1"}}
		svc := newTestService(t, router)

		if err := svc.HandleEvent(context.Background(), checkoutEvent(t, eventType)); err != nil {
			t.Fatalf("%s: handle event: %v", eventType, err)
		}
		if len(router.triggers) != 1 {
			t.Fatalf("%s: expected one trigger, got %d", eventType, len(router.triggers))
		}
		got := router.triggers[0]
		want := completion.Trigger{
			Source:    enums.TriggerWebhook,
			SessionID: "cs_test_1",
			CaptureID: "pi_CAP1",
			CartID:    "C1",
			Channel:   "default-channel",
		}
		if got != want {
			t.Fatalf("%s: unexpected trigger %+v", eventType, got)
		}
	}
}

func TestHandleEventAcknowledgesOtherEvents(t *testing.T) {
	router := &fakeRouter{}
	svc := newTestService(t, router)

	for _, eventType := range []string{eventCheckoutSessionExpired, eventAsyncPaymentFailed, "customer.created"} {
		if err := svc.HandleEvent(context.Background(), checkoutEvent(t, eventType)); err != nil {
			t.Fatalf("%s: expected ack, got %v", eventType, err)
		}
	}
	if len(router.triggers) != 0 {
		t.Fatalf("expected no completion, got %d", len(router.triggers))
	}
}

func TestHandleEventRedeliversOnDependencyFailure(t *testing.T) {
	router := &fakeRouter{err: pkgerrors.New(pkgerrors.CodeDependency, "stripe down")}
	svc := newTestService(t, router)

	err := svc.HandleEvent(context.Background(), checkoutEvent(t, eventCheckoutCompleted))
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestHandleEventAcksNonRetryableFailures(t *testing.T) {
	for _, code := range []pkgerrors.Code{pkgerrors.CodeValidation, pkgerrors.CodeSessionNotFound} {
		router := &fakeRouter{err: pkgerrors.New(code, "nope")}
		svc := newTestService(t, router)

		if err := svc.HandleEvent(context.Background(), checkoutEvent(t, eventCheckoutCompleted)); err != nil {
			t.Fatalf("%s: expected ack, got %v", code, err)
		}
	}
}

func TestHandleEventAcksFailedOutcome(t *testing.T) {
	router := &fakeRouter{outcome: completion.Outcome{State: completion.StateFailed, FailureCode: "backend_rejected"}}
	svc := newTestService(t, router)

	if err := svc.HandleEvent(context.Background(), checkoutEvent(t, eventCheckoutCompleted)); err != nil {
		t.Fatalf("expected ack, got %v", err)
	}
}

func TestHandleEventRejectsMalformedPayload(t *testing.T) {
	svc := newTestService(t, &fakeRouter{})

	event := checkoutEvent(t, eventCheckoutCompleted)
	event.Data.Raw = json.RawMessage(`{"id":`)
	if err := svc.HandleEvent(context.Background(), event); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := svc.HandleEvent(context.Background(), nil); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil event, got %v", err)
	}
}

func TestNewServiceRequiresRouter(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatalf("expected error without router")
	}
}
