package policy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := newCache[int](time.Minute, 10)
	c.set("a", 1)
	v, ok := c.get("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := newCache[int](10*time.Millisecond, 10)
	c.set("a", 1)
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("a"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCache_EvictsOldestOverCapacity(t *testing.T) {
	c := newCache[int](time.Minute, 2)
	c.set("a", 1)
	c.set("b", 2)
	c.set("c", 3)

	if _, ok := c.get("a"); ok {
		t.Fatal("expected oldest entry 'a' to have been evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Fatal("expected 'b' to still be cached")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected 'c' to still be cached")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := newCache[int](time.Minute, 10)
	c.set("a", 1)
	c.invalidate("a")
	if _, ok := c.get("a"); ok {
		t.Fatal("expected entry to be gone after invalidate")
	}
}

func TestCache_GetOrLoad_CoalescesConcurrentMisses(t *testing.T) {
	c := newCache[int](time.Minute, 10)
	var loads int64

	var wg sync.WaitGroup
	results := make([]int, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.getOrLoad(context.Background(), "shared", func(ctx context.Context) (int, bool, error) {
				atomic.AddInt64(&loads, 1)
				time.Sleep(10 * time.Millisecond)
				return 42, true, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[idx] = v
		}(i)
	}
	wg.Wait()

	if loads != 1 {
		t.Fatalf("expected exactly 1 load for concurrent misses, got %d", loads)
	}
	for _, v := range results {
		if v != 42 {
			t.Fatalf("expected all goroutines to see 42, got %d", v)
		}
	}
}

func TestCache_GetOrLoad_DoesNotCacheNegativeResult(t *testing.T) {
	c := newCache[*int](time.Minute, 10)

	v, err := c.getOrLoad(context.Background(), "missing", func(ctx context.Context) (*int, bool, error) {
		return nil, false, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatal("expected nil for a not-found result")
	}
	if _, ok := c.get("missing"); ok {
		t.Fatal("expected negative result to not be cached")
	}
}
