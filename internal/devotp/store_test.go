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
	store.Put(ctx, "+15551234", "123456", time.Now().UTC().Add(5*time.Minute))

	code, ok := store.Get(ctx, "+15551234")
	if !ok {
		t.Fatal("Get should return the code after Put")
	}
	if code != "123456" {
		t.Errorf("code = %q, want %q", code, "123456")
	}
}

func TestMemoryStore_PutReplacesEarlierCode(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(5 * time.Minute)
	store.Put(ctx, "+15551234", "111111", exp)
	store.Put(ctx, "+15551234", "222222", exp)

	code, ok := store.Get(ctx, "+15551234")
	if !ok || code != "222222" {
		t.Errorf("Get = %q, %v; want 222222, true", code, ok)
	}
}

func TestMemoryStore_Get_Missing(t *testing.T) {
	store := NewMemoryStore()
	code, ok := store.Get(context.Background(), "+15550000")
	if ok || code != "" {
		t.Errorf("Get = %q, %v; want empty, false", code, ok)
	}
}

func TestMemoryStore_Get_ExpiredIsDropped(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	store.nowF = func() time.Time { return now }
	store.Put(ctx, "+15551234", "123456", now.Add(time.Minute))

	now = now.Add(time.Minute)
	if _, ok := store.Get(ctx, "+15551234"); ok {
		t.Error("Get should return false at expiry")
	}
	store.mu.RLock()
	_, present := store.m["+15551234"]
	store.mu.RUnlock()
	if present {
		t.Error("expired entry should be removed")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	exp := time.Now().UTC().Add(5 * time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		phone := "+1555000" + string(rune('0'+i))
		go func() {
			defer wg.Done()
			store.Put(ctx, phone, "123456", exp)
		}()
		go func() {
			defer wg.Done()
			store.Get(ctx, phone)
		}()
	}
	wg.Wait()
}
