package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, stubPinger{}, stubPinger{}, nil, logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady(cfg, stubPinger{}, stubPinger{err: errors.New("refused")}, nil, logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type stubBreaker gobreaker.State

func (s stubBreaker) BreakerState() gobreaker.State {
	return gobreaker.State(s)
}

func TestHealthReadyReportsCommerceBreaker(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	for state, want := range map[gobreaker.State]string{
		gobreaker.StateClosed: "ready",
		gobreaker.StateOpen:   "degraded",
	} {
		rec := httptest.NewRecorder()
		HealthReady(cfg, stubPinger{}, stubPinger{}, stubBreaker(state), logger.Nop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: breaker state must not fail readiness, got %d", state, rec.Code)
		}
		var body struct {
			Data struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			} `json:"data"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Data.Status != want || body.Data.Checks["commerce"] != state.String() {
			t.Fatalf("%s: unexpected body %s", state, rec.Body.String())
		}
	}
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Storefront-Env") != "dev" {
		t.Fatalf("unexpected live response %d", rec.Code)
	}
}
