package hotstore

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open hot store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close hot store: %v", err)
		}
	})
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "tenant-1", "session-1", "counter", float64(7)); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok, err := store.Get(ctx, "tenant-1", "session-1", "counter")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected key to be present")
	}
	if value != float64(7) {
		t.Fatalf("expected 7, got %v", value)
	}

	if err := store.Delete(ctx, "tenant-1", "session-1", "counter"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = store.Get(ctx, "tenant-1", "session-1", "counter")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatal("expected key to be absent after delete")
	}
}

func TestScopesDoNotCollide(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "tenant-1", "session-1", "k", "one"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "tenant-2", "session-1", "k", "two"); err != nil {
		t.Fatalf("set: %v", err)
	}

	value, ok, err := store.Get(ctx, "tenant-1", "session-1", "k")
	if err != nil || !ok {
		t.Fatalf("get tenant-1: ok=%v err=%v", ok, err)
	}
	if value != "one" {
		t.Fatalf("expected tenant isolation, got %v", value)
	}
}

func TestExpiredEntriesReadAsAbsent(t *testing.T) {
	store, err := Open(Options{InMemory: true, TTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("open hot store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "tenant-1", "session-1", "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	_, ok, err := store.Get(ctx, "tenant-1", "session-1", "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected entry to expire")
	}
}

func TestGetMissingKey(t *testing.T) {
	store := openTestStore(t)

	_, ok, err := store.Get(context.Background(), "tenant-1", "session-1", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key to report absent")
	}
}
