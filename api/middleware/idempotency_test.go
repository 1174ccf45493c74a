package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
)

const checkoutPath = "/api/v1/checkout/sessions"

type fakeStore struct {
	data     map[string]string
	ttls     map[string]time.Duration
	setNXErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.setNXErr != nil {
		return false, f.setNXErr
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key], _ = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func checkoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, checkoutPath, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v", err)
	}
	return payload.Error.Code
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	called := false
	handler := Idempotency(newFakeStore(), 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("", `{"id":"c1"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if called {
		t.Fatal("handler should not run without idempotency key")
	}

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest(strings.Repeat("k", maxIdempotencyKeyLen+1), `{}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key got %d", resp.Code)
	}
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"sessionId":"cs_1"}}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, checkoutRequest("abc", `{"id":"c1"}`))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", first.Code)
	}
	if first.Header().Get("Idempotent-Replayed") != "" {
		t.Fatal("first response must not be flagged as replayed")
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, checkoutRequest("abc", `{"id":"c1"}`))
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replay 201 got %d", replay.Code)
	}
	if replay.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected replay header")
	}
	if replay.Header().Get("Content-Type") != "application/json" {
		t.Fatal("expected content type preserved")
	}
	if replay.Body.String() != `{"data":{"sessionId":"cs_1"}}` {
		t.Fatalf("unexpected replay body %s", replay.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times, expected 1", calls)
	}
	for key, ttl := range store.ttls {
		if ttl != time.Hour {
			t.Fatalf("expected completed record ttl 1h on %s, got %v", key, ttl)
		}
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	store := newFakeStore()
	var inner http.Handler
	duplicate := httptest.NewRecorder()
	inner = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a second submit arrives while the first is still running
		Idempotency(store, 0, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("duplicate must not reach the handler")
		})).ServeHTTP(duplicate, checkoutRequest("dup", `{"id":"c1"}`))
		w.WriteHeader(http.StatusCreated)
	})

	first := httptest.NewRecorder()
	Idempotency(store, 0, nil)(inner).ServeHTTP(first, checkoutRequest("dup", `{"id":"c1"}`))

	if first.Code != http.StatusCreated {
		t.Fatalf("expected first 201 got %d", first.Code)
	}
	if duplicate.Code != http.StatusConflict {
		t.Fatalf("expected in-flight duplicate 409 got %d", duplicate.Code)
	}
	if duplicate.Header().Get("Retry-After") != "1" {
		t.Fatal("expected Retry-After on in-flight duplicate")
	}
	if got := errorCode(t, duplicate); got != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected error code %s", got)
	}
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("retry", `{"id":"c1"}`))
	if len(store.data) != 0 {
		t.Fatalf("expected key released after 503, store=%v", store.data)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("retry", `{"id":"c1"}`))

	if calls != 2 || resp.Code != http.StatusCreated {
		t.Fatalf("expected retry to reach handler, calls=%d code=%d", calls, resp.Code)
	}
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), checkoutRequest("xyz", `{"id":"c1"}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("xyz", `{"id":"c2"}`))

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if got := errorCode(t, resp); got != string(pkgerrors.CodeIdempotency) {
		t.Fatalf("unexpected error code %s", got)
	}
}

func TestIdempotencySurfacesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.setNXErr = errors.New("redis down")
	handler := Idempotency(store, 0, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run when the key cannot be claimed")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, checkoutRequest("k", `{}`))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestIdempotencyPassesSafeMethods(t *testing.T) {
	called := false
	handler := Idempotency(newFakeStore(), 0, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, checkoutPath, nil))
	if !called || resp.Code != http.StatusOK {
		t.Fatalf("expected passthrough, called=%v code=%d", called, resp.Code)
	}
}
