package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestCheckAndMarkProcessed(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	ctx := context.Background()

	duplicate, err := manager.CheckAndMarkProcessed(ctx, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if duplicate {
		t.Fatal("first delivery must not be a duplicate")
	}

	duplicate, err = manager.CheckAndMarkProcessed(ctx, "stripe", "evt_1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !duplicate {
		t.Fatal("replayed delivery must be reported as duplicate")
	}

	// A different consumer tracks its own marker for the same event id.
	duplicate, err = manager.CheckAndMarkProcessed(ctx, "stripe_connect", "evt_1")
	if err != nil {
		t.Fatalf("other consumer check: %v", err)
	}
	if duplicate {
		t.Fatal("consumers must not share processed markers")
	}
}

func TestDeleteClearsMarker(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	manager, err := NewManager(store, time.Hour)
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	ctx := context.Background()

	if _, err := manager.CheckAndMarkProcessed(ctx, "stripe", "evt_2"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := manager.Delete(ctx, "stripe", "evt_2"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	duplicate, err := manager.CheckAndMarkProcessed(ctx, "stripe", "evt_2")
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if duplicate {
		t.Fatal("deleted marker must allow a retry")
	}
}

func TestCheckRejectsEmptyInputs(t *testing.T) {
	t.Parallel()

	manager, err := NewManager(newStubStore(), time.Hour)
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	ctx := context.Background()

	if _, err := manager.CheckAndMarkProcessed(ctx, "", "evt_1"); err == nil {
		t.Fatal("expected error for missing consumer")
	}
	if _, err := manager.CheckAndMarkProcessed(ctx, "stripe", "  "); err == nil {
		t.Fatal("expected error for blank event id")
	}
}

type stubStore struct {
	values map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{values: map[string]string{}}
}

func (s *stubStore) Get(ctx context.Context, key string) (string, error) {
	return s.values[key], nil
}

func (s *stubStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = "1"
	return true, nil
}

func (s *stubStore) IdempotencyKey(scope, id string) string {
	return "designia:idempotency:" + scope + ":" + id
}

func (s *stubStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}
