package devotp

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, 1, "123456", time.Now().UTC().Add(5*time.Minute))

	code, ok := store.Get(ctx, 1)
	if !ok {
		t.Fatal("Get should return code after Put")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
	if _, ok := store.Get(ctx, 2); ok {
		t.Error("Get should return false for unknown pending id")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }

	store.Put(ctx, 7, "111111", now.Add(time.Minute))
	now = now.Add(time.Minute)

	if _, ok := store.Get(ctx, 7); ok {
		t.Fatal("Get should return false once expiresAt is reached")
	}
	store.mu.RLock()
	_, present := store.m[7]
	store.mu.RUnlock()
	if present {
		t.Error("expired entry should be removed on Get")
	}
}

func TestMemoryStore_PutSweepsExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.nowF = func() time.Time { return now }

	store.Put(ctx, 1, "111111", now.Add(time.Second))
	now = now.Add(time.Hour)
	store.Put(ctx, 2, "222222", now.Add(time.Minute))

	store.mu.RLock()
	n := len(store.m)
	store.mu.RUnlock()
	if n != 1 {
		t.Errorf("len = %d, want 1 after sweep", n)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Put(ctx, 3, "333333", time.Now().UTC().Add(time.Minute))
	store.Delete(ctx, 3)
	if _, ok := store.Get(ctx, 3); ok {
		t.Error("Get after Delete should return false")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Minute)

	var wg sync.WaitGroup
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			store.Put(ctx, id, "000000", exp)
			store.Get(ctx, id)
		}(i)
	}
	wg.Wait()
	for i := int64(0); i < 50; i++ {
		if _, ok := store.Get(ctx, i); !ok {
			t.Errorf("missing code for %d", i)
		}
	}
}
