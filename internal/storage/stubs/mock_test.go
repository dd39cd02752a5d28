package stubs

import (
	"context"
	"errors"
	"testing"

	"consumo/internal/storage"
)

func TestMockService_GetMissingRow(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	key, err := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 42})
	if err != nil {
		t.Fatalf("Failed to derive key: %v", err)
	}

	_, err = svc.Get(ctx, key)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestMockService_AddConflict(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	key, err := svc.GetStorageKey(storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: 1})
	if err != nil {
		t.Fatalf("Failed to derive key: %v", err)
	}

	if err := svc.Add(ctx, key, storage.Entity{storage.PropDistance: int32(210)}); err != nil {
		t.Fatalf("Failed to add entity: %v", err)
	}

	err = svc.Add(ctx, key, storage.Entity{storage.PropDistance: int32(999)})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	// The first row must survive the rejected insert
	e, err := svc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get entity: %v", err)
	}
	if e[storage.PropDistance] != int32(210) {
		t.Errorf("Expected distance 210, got %v", e[storage.PropDistance])
	}
}

func TestMockService_AddOrUpdateReplaces(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	key, _ := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 7})

	if err := svc.AddOrUpdate(ctx, key, storage.LastReadingEntity(1)); err != nil {
		t.Fatalf("Failed to insert pointer: %v", err)
	}
	if err := svc.AddOrUpdate(ctx, key, storage.LastReadingEntity(2)); err != nil {
		t.Fatalf("Failed to replace pointer: %v", err)
	}

	e, err := svc.Get(ctx, key)
	if err != nil {
		t.Fatalf("Failed to get pointer: %v", err)
	}
	last, err := storage.LastReadingFromEntity(7, e)
	if err != nil {
		t.Fatalf("Failed to decode pointer: %v", err)
	}
	if last.Last != 2 {
		t.Errorf("Expected last 2, got %d", last.Last)
	}
}

func TestMockService_ReturnsCopies(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	key, _ := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 7})
	entity := storage.LastReadingEntity(3)
	if err := svc.AddOrUpdate(ctx, key, entity); err != nil {
		t.Fatalf("Failed to insert pointer: %v", err)
	}
	entity[storage.PropLast] = int32(100)

	got, _ := svc.Get(ctx, key)
	got[storage.PropLast] = int32(200)

	again, _ := svc.Get(ctx, key)
	if again[storage.PropLast] != int32(3) {
		t.Errorf("Expected stored value to stay 3, got %v", again[storage.PropLast])
	}
}

func TestMockService_InitFailureIsRetried(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()
	key, _ := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 1})

	svc.FailNext("init", errors.New("table service unavailable"))

	_, err := svc.Get(ctx, key)
	if !storage.IsBackendError(err) {
		t.Fatalf("Expected backend error, got %v", err)
	}
	if svc.Inits() != 0 {
		t.Fatalf("Expected no successful init, got %d", svc.Inits())
	}

	_, err = svc.Get(ctx, key)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after init recovered, got %v", err)
	}
	_, _ = svc.Get(ctx, key)
	if svc.Inits() != 1 {
		t.Errorf("Expected exactly one init, got %d", svc.Inits())
	}
}

func TestMockService_FailNext(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()
	key, _ := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 1})

	cause := errors.New("connection reset")
	svc.FailNext("add_or_update", cause)

	err := svc.AddOrUpdate(ctx, key, storage.LastReadingEntity(1))
	if !errors.Is(err, cause) {
		t.Fatalf("Expected injected failure, got %v", err)
	}
	if err := svc.AddOrUpdate(ctx, key, storage.LastReadingEntity(1)); err != nil {
		t.Fatalf("Expected failure to be one-shot, got %v", err)
	}
}

func TestMockService_Keys(t *testing.T) {
	svc := NewMockService()
	ctx := context.Background()

	for id := 1; id <= 2; id++ {
		key, _ := svc.GetStorageKey(storage.ReadingKey, storage.KeyContext{User: 42, ReadingID: id})
		if err := svc.Add(ctx, key, storage.Entity{}); err != nil {
			t.Fatalf("Failed to add reading %d: %v", id, err)
		}
	}
	key, _ := svc.GetStorageKey(storage.LastReadingKey, storage.KeyContext{User: 42})
	_ = svc.AddOrUpdate(ctx, key, storage.LastReadingEntity(2))

	keys := svc.Keys()
	expected := []string{
		"LastUserRowKey/User_42",
		"UserReadings/Reading_42_1",
		"UserReadings/Reading_42_2",
	}
	if len(keys) != len(expected) {
		t.Fatalf("Expected %d keys, got %d", len(expected), len(keys))
	}
	for i, k := range keys {
		if k.String() != expected[i] {
			t.Errorf("Key %d: expected %s, got %s", i, expected[i], k.String())
		}
	}
}
