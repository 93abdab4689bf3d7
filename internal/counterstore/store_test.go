package counterstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sergeybar/ratesentry/internal/counterstore"
)

func newTestStore(t *testing.T) *counterstore.RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return counterstore.NewFromClient(client)
}

func TestFixedWindow_AllowsUpToMax(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := counterstore.Key("fixed", "user", "alice")
	now := time.Now().Unix()

	for i := 0; i < 3; i++ {
		res, err := s.FixedWindow(ctx, key, counterstore.FixedWindowArgs{
			MaxRequests: 3, WindowSec: 60, NowSec: now, Increment: 1,
		})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed, got denied", i)
		}
	}

	res, err := s.FixedWindow(ctx, key, counterstore.FixedWindowArgs{
		MaxRequests: 3, WindowSec: 60, NowSec: now, Increment: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Allowed {
		t.Fatal("expected 4th call to be denied")
	}
	if res.Remaining != 0 {
		t.Fatalf("expected remaining 0 on denial, got %d", res.Remaining)
	}
}

func TestTokenBucket_BurstThenRefill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := counterstore.Key("token", "user", "bob")

	for i := 0; i < 10; i++ {
		res, err := s.TokenBucket(ctx, key, counterstore.TokenBucketArgs{
			Capacity: 10, RefillRate: 1, NowMs: 0, Requested: 1, TTLSec: 20,
		})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	denied, err := s.TokenBucket(ctx, key, counterstore.TokenBucketArgs{
		Capacity: 10, RefillRate: 1, NowMs: 0, Requested: 1, TTLSec: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denied.Allowed {
		t.Fatal("expected 11th call at t=0 to be denied")
	}
	if denied.ResetInSec <= 0 {
		t.Fatalf("expected positive resetInSec, got %d", denied.ResetInSec)
	}

	// At t=5s, five tokens have refilled (1 token/s).
	allowed, err := s.TokenBucket(ctx, key, counterstore.TokenBucketArgs{
		Capacity: 10, RefillRate: 1, NowMs: 5000, Requested: 1, TTLSec: 20,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !allowed.Allowed {
		t.Fatal("expected a request at t=5s to be allowed after refill")
	}
}

func TestSlidingLog_StrictWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := counterstore.Key("sliding", "user", "carol")

	for i, ms := range []int64{0, 1000, 2000} {
		res, err := s.SlidingLog(ctx, key, counterstore.SlidingLogArgs{
			MaxRequests: 3, WindowMs: 60000, NowMs: ms, Increment: 1, TTLSec: 120,
		})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	denied, err := s.SlidingLog(ctx, key, counterstore.SlidingLogArgs{
		MaxRequests: 3, WindowMs: 60000, NowMs: 59000, Increment: 1, TTLSec: 120,
	})
	if err != nil {
		t.Fatal(err)
	}
	if denied.Allowed {
		t.Fatal("expected denial at t=59s (3 events still in 60s window)")
	}

	allowed, err := s.SlidingLog(ctx, key, counterstore.SlidingLogArgs{
		MaxRequests: 3, WindowMs: 60000, NowMs: 61000, Increment: 1, TTLSec: 120,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !allowed.Allowed {
		t.Fatal("expected allow at t=61s once the first event ages out")
	}
}

func TestDeleteByPattern(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := counterstore.Key("fixed", "user", "dave")
	if _, err := s.FixedWindow(ctx, key, counterstore.FixedWindowArgs{
		MaxRequests: 5, WindowSec: 60, NowSec: time.Now().Unix(), Increment: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteByPattern(ctx, "rl:fixed:user:*"); err != nil {
		t.Fatalf("delete by pattern: %v", err)
	}
}
