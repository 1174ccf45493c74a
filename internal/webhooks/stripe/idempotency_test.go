package stripewebhook

import (
	"context"
	"testing"
	"time"
)

type memoryStore struct {
	values map[string]any
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: map[string]any{}}
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.values[key]; ok {
		return v.(string), nil
	}
	return "", nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.values[key] = value
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return "idempotency:" + scope + ":" + id
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestIdempotencyGuardMarksOnce(t *testing.T) {
	store := newMemoryStore()
	guard, err := NewIdempotencyGuard(store, time.Hour)
	if err != nil {
		t.Fatalf("setup guard: %v", err)
	}

	seen, err := guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery: seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || !seen {
		t.Fatalf("redelivery: seen=%v err=%v", seen, err)
	}
	if _, ok := store.values["idempotency:stripe-webhook:evt_1"]; !ok {
		t.Fatalf("expected scoped key, got %v", store.values)
	}

	if err := guard.Release(context.Background(), "evt_1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	seen, err = guard.CheckAndMark(context.Background(), "evt_1")
	if err != nil || seen {
		t.Fatalf("after release: seen=%v err=%v", seen, err)
	}
}

func TestIdempotencyGuardValidation(t *testing.T) {
	if _, err := NewIdempotencyGuard(nil, time.Hour); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := NewIdempotencyGuard(newMemoryStore(), 0); err == nil {
		t.Fatalf("expected error without ttl")
	}
	guard, _ := NewIdempotencyGuard(newMemoryStore(), time.Hour)
	if _, err := guard.CheckAndMark(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty event id")
	}
}
