package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/ratelimit"
	"github.com/sergeybar/ratesentry/internal/resilience"
)

// brokenStore always errors, simulating an unreachable counter store so the
// envelope's fallback path can be exercised without a real outage.
type brokenStore struct{}

func (brokenStore) TokenBucket(context.Context, string, counterstore.TokenBucketArgs) (counterstore.ScriptResult, error) {
	return counterstore.ScriptResult{}, errors.New("counterstore: unreachable")
}
func (brokenStore) FixedWindow(context.Context, string, counterstore.FixedWindowArgs) (counterstore.ScriptResult, error) {
	return counterstore.ScriptResult{}, errors.New("counterstore: unreachable")
}
func (brokenStore) SlidingLog(context.Context, string, counterstore.SlidingLogArgs) (counterstore.ScriptResult, error) {
	return counterstore.ScriptResult{}, errors.New("counterstore: unreachable")
}
func (brokenStore) DeleteByPattern(context.Context, string) error { return nil }
func (brokenStore) Ping(context.Context) error                    { return nil }

func newTestEngine(t *testing.T) *ratelimit.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := counterstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	envelope := resilience.NewEnvelope(
		resilience.BreakerConfig{FailureRateThreshold: 50, SlidingWindowSize: 20, WaitDurationInOpen: time.Minute, HalfOpenSuccesses: 2},
		resilience.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond},
	)
	return ratelimit.NewEngine(store, envelope)
}

func fixedWindowPolicy() *model.Policy {
	return &model.Policy{
		ID:            uuid.New(),
		Algorithm:     model.AlgorithmFixedWindow,
		MaxRequests:   2,
		WindowSeconds: 60,
		FailMode:      model.FailClosed,
		Enabled:       true,
	}
}

func TestEngine_FixedWindow_DeniesOverLimit(t *testing.T) {
	e := newTestEngine(t)
	policy := fixedWindowPolicy()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		out, err := e.Check(ctx, "user-1", model.ScopeUser, policy, now, 1)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !out.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}

	out, err := e.Check(ctx, "user-1", model.ScopeUser, policy, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if out.Allowed {
		t.Fatal("expected 3rd call over a limit of 2 to be denied")
	}
	if out.Limit != 2 {
		t.Fatalf("expected limit 2, got %d", out.Limit)
	}
}

func TestEngine_TokenBucket_ShapesLimitFromMaxRequests(t *testing.T) {
	e := newTestEngine(t)
	burst := 8 // deliberately different from MaxRequests, to prove Limit doesn't leak burst capacity
	rate := 1.0
	policy := &model.Policy{
		ID:            uuid.New(),
		Algorithm:     model.AlgorithmTokenBucket,
		MaxRequests:   5,
		WindowSeconds: 5,
		BurstCapacity: &burst,
		RefillRate:    &rate,
		FailMode:      model.FailClosed,
		Enabled:       true,
	}

	out, err := e.Check(context.Background(), "user-2", model.ScopeUser, policy, time.Now(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Allowed {
		t.Fatal("expected first token bucket call to be allowed")
	}
	if out.Limit != 5 {
		t.Fatalf("expected limit to reflect maxRequests (5), not burst capacity (8); got %d", out.Limit)
	}
}

func TestEngine_FailOpenFallback_ReportsRemainingAsLimit(t *testing.T) {
	envelope := resilience.NewEnvelope(
		resilience.BreakerConfig{FailureRateThreshold: 50, SlidingWindowSize: 20, WaitDurationInOpen: time.Minute, HalfOpenSuccesses: 2},
		resilience.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond},
	)
	e := ratelimit.NewEngine(brokenStore{}, envelope)
	policy := &model.Policy{
		ID:            uuid.New(),
		Algorithm:     model.AlgorithmFixedWindow,
		MaxRequests:   42,
		WindowSeconds: 60,
		FailMode:      model.FailOpen,
		Enabled:       true,
	}

	out, err := e.Check(context.Background(), "user-4", model.ScopeUser, policy, time.Now(), 1)
	if err == nil {
		t.Fatal("expected an error from the broken store")
	}
	if !out.Allowed {
		t.Fatal("expected FAIL_OPEN fallback to allow the request")
	}
	if out.Remaining != out.Limit {
		t.Fatalf("expected FAIL_OPEN fallback remaining (%d) to equal limit (%d), not a negative sentinel", out.Remaining, out.Limit)
	}
	if out.Remaining != 42 {
		t.Fatalf("expected remaining to reflect maxRequests (42), got %d", out.Remaining)
	}
}

func TestEngine_UnknownAlgorithm_Errors(t *testing.T) {
	e := newTestEngine(t)
	policy := &model.Policy{Algorithm: model.Algorithm("BOGUS"), MaxRequests: 1, WindowSeconds: 1, FailMode: model.FailClosed}

	_, err := e.Check(context.Background(), "user-3", model.ScopeUser, policy, time.Now(), 1)
	if err == nil {
		t.Fatal("expected an error for an unregistered algorithm")
	}
}

func TestEngine_EmptyIdentifier_Errors(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Check(context.Background(), "", model.ScopeUser, fixedWindowPolicy(), time.Now(), 1)
	if err == nil {
		t.Fatal("expected an error for an empty identifier")
	}
}
