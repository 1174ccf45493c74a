package stripe

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
)

func TestNewClientValidatesKeysAgainstEnv(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		cfg     config.StripeConfig
		wantErr bool
	}{
		{name: "test key in test env", cfg: config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec"}},
		{name: "restricted live key", cfg: config.StripeConfig{APIKey: "rk_live_1", WebhookSecret: "whsec", Env: "live"}},
		{name: "live key in test env", cfg: config.StripeConfig{APIKey: "sk_live_1", WebhookSecret: "whsec"}, wantErr: true},
		{name: "missing secret", cfg: config.StripeConfig{APIKey: "sk_test_1"}, wantErr: true},
		{name: "missing key", cfg: config.StripeConfig{WebhookSecret: "whsec"}, wantErr: true},
		{name: "unknown env", cfg: config.StripeConfig{APIKey: "sk_test_1", WebhookSecret: "whsec", Env: "staging"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(ctx, tc.cfg, nil)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.SigningSecret() != "whsec" {
				t.Fatalf("unexpected signing secret %q", c.SigningSecret())
			}
		})
	}
}

func TestErrorClassification(t *testing.T) {
	missing := &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound}
	if !IsResourceMissing(missing) {
		t.Fatal("expected resource_missing to be detected")
	}
	if IsTransient(missing) {
		t.Fatal("a missing session is not transient")
	}

	if !IsTransient(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}) {
		t.Fatal("rate limits are transient")
	}
	if !IsTransient(&stripe.Error{HTTPStatusCode: http.StatusBadGateway}) {
		t.Fatal("5xx responses are transient")
	}
	if !IsTransient(errors.New("dial tcp: connection refused")) {
		t.Fatal("network errors are transient")
	}
	if IsTransient(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}) {
		t.Fatal("invalid requests are permanent")
	}
	if IsTransient(nil) {
		t.Fatal("nil is not transient")
	}
}
