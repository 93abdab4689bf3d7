package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
)

func testEnvelope() *Envelope {
	return NewEnvelope(
		BreakerConfig{
			FailureRateThreshold: 50,
			SlidingWindowSize:    4,
			WaitDurationInOpen:   time.Minute,
			HalfOpenSuccesses:    1,
		},
		RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, JitterFraction: 0},
	)
}

func TestEnvelope_SuccessPassesThrough(t *testing.T) {
	e := testEnvelope()
	want := counterstore.ScriptResult{Allowed: true, Remaining: 4, ResetInSec: 10}

	res, err := e.Execute(context.Background(), model.FailClosed, func(ctx context.Context) (counterstore.ScriptResult, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ScriptResult != want {
		t.Fatalf("expected pass-through result %+v, got %+v", want, res.ScriptResult)
	}
	if res.UsedFallback {
		t.Fatal("expected UsedFallback=false on success")
	}
}

func TestEnvelope_RetriesThenSucceeds(t *testing.T) {
	e := testEnvelope()
	calls := 0

	res, err := e.Execute(context.Background(), model.FailClosed, func(ctx context.Context) (counterstore.ScriptResult, error) {
		calls++
		if calls == 1 {
			return counterstore.ScriptResult{}, errors.New("transient")
		}
		return counterstore.ScriptResult{Allowed: true, Remaining: 1}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if !res.Allowed {
		t.Fatal("expected eventual success to be allowed")
	}
}

func TestEnvelope_FailClosedFallbackOnExhaustedRetries(t *testing.T) {
	e := testEnvelope()

	res, err := e.Execute(context.Background(), model.FailClosed, func(ctx context.Context) (counterstore.ScriptResult, error) {
		return counterstore.ScriptResult{}, errors.New("store down")
	})
	if err == nil {
		t.Fatal("expected error to be surfaced for logging")
	}
	if res.Allowed {
		t.Fatal("expected FAIL_CLOSED fallback to deny")
	}
	if !res.UsedFallback {
		t.Fatal("expected UsedFallback=true")
	}
}

func TestEnvelope_FailOpenFallbackOnExhaustedRetries(t *testing.T) {
	e := testEnvelope()

	res, err := e.Execute(context.Background(), model.FailOpen, func(ctx context.Context) (counterstore.ScriptResult, error) {
		return counterstore.ScriptResult{}, errors.New("store down")
	})
	if err == nil {
		t.Fatal("expected error to be surfaced for logging")
	}
	if !res.Allowed {
		t.Fatal("expected FAIL_OPEN fallback to allow")
	}
	if !res.UsedFallback {
		t.Fatal("expected UsedFallback=true")
	}
}

func TestEnvelope_BreakerOpenSkipsCallEntirely(t *testing.T) {
	e := testEnvelope()

	for i := 0; i < 4; i++ {
		_, _ = e.Execute(context.Background(), model.FailClosed, func(ctx context.Context) (counterstore.ScriptResult, error) {
			return counterstore.ScriptResult{}, errors.New("store down")
		})
	}
	if e.State() != StateOpen {
		t.Fatalf("expected breaker OPEN after repeated failures, got %s", e.State())
	}

	called := false
	res, err := e.Execute(context.Background(), model.FailClosed, func(ctx context.Context) (counterstore.ScriptResult, error) {
		called = true
		return counterstore.ScriptResult{Allowed: true}, nil
	})
	if called {
		t.Fatal("expected the call to be skipped while breaker is OPEN")
	}
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if !res.BreakerOpen {
		t.Fatal("expected BreakerOpen=true on the fallback result")
	}
}
