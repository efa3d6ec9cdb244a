package storage

import (
	"context"
	"errors"
	"testing"
)

func exerciseBlobStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "sensor.missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, "sensor.temp", []byte("first")); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := store.Set(ctx, "sensor.temp", []byte("second")); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}
	if err := store.Set(ctx, "sensor.humidity", []byte{0, 1, 2}); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}

	value, err := store.Get(ctx, "sensor.temp")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(value) != "second" {
		t.Errorf("Expected second, got %q", value)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	for _, key := range []string{"sensor.temp", "sensor.humidity"} {
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected %s to be cleared, got %v", key, err)
		}
	}
}

func TestBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(&Config{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	exerciseBlobStore(t, store)
}

func TestBadgerStoreReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewBadgerStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Set(ctx, "sensor.temp", []byte("persisted")); err != nil {
		t.Fatalf("Failed to set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	store, err = NewBadgerStore(&Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	value, err := store.Get(ctx, "sensor.temp")
	if err != nil {
		t.Fatalf("Failed to get after reopen: %v", err)
	}
	if string(value) != "persisted" {
		t.Errorf("Expected persisted, got %q", value)
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer store.Close()

	exerciseBlobStore(t, store)
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseBlobStore(t, NewMemoryStore(16, 0))
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, &Config{Backend: "memory", MemoryCapacity: 4})
	if err != nil {
		t.Fatalf("Failed to open memory backend: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", store)
	}
	store.Close()

	store, err = Open(ctx, &Config{Backend: "sqlite", Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to open sqlite backend: %v", err)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("Expected *SQLiteStore, got %T", store)
	}
	store.Close()

	if _, err := Open(ctx, &Config{Backend: "cassandra"}); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
