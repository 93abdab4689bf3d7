package resilience

import (
	"testing"
	"time"
)

func TestBreaker_TripsAtFailureThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureRateThreshold: 50,
		SlidingWindowSize:    4,
		WaitDurationInOpen:   time.Minute,
		HalfOpenSuccesses:    2,
	})

	b.RecordSuccess(time.Millisecond)
	b.RecordSuccess(time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after successes, got %s", b.State())
	}

	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN at 50%% failure rate over full window, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow() to be false while OPEN")
	}
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureRateThreshold: 1,
		SlidingWindowSize:    2,
		WaitDurationInOpen:   10 * time.Millisecond,
		HalfOpenSuccesses:    2,
	})

	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN, got %s", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN after wait duration, got %s", b.State())
	}

	b.RecordSuccess(time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected still HALF_OPEN after 1/2 successes, got %s", b.State())
	}
	b.RecordSuccess(time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after 2/2 successes, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureRateThreshold: 1,
		SlidingWindowSize:    2,
		WaitDurationInOpen:   10 * time.Millisecond,
		HalfOpenSuccesses:    2,
	})

	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", b.State())
	}

	b.RecordFailure(time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected a HALF_OPEN failure to reopen the breaker, got %s", b.State())
	}
}

func TestBreaker_TripsAtSlowCallThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureRateThreshold:      100, // never trips on failures alone in this test
		SlidingWindowSize:         4,
		WaitDurationInOpen:        time.Minute,
		HalfOpenSuccesses:         2,
		SlowCallDurationThreshold: 50 * time.Millisecond,
		SlowCallRateThreshold:     50,
	})

	b.RecordSuccess(time.Millisecond)
	b.RecordSuccess(time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED after fast successes, got %s", b.State())
	}

	b.RecordSuccess(100 * time.Millisecond)
	b.RecordSuccess(100 * time.Millisecond)
	if b.State() != StateOpen {
		t.Fatalf("expected OPEN at 50%% slow-call rate over full window, got %s", b.State())
	}
}

func TestBreaker_DoesNotTripBeforeWindowFull(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		FailureRateThreshold: 50,
		SlidingWindowSize:    10,
		WaitDurationInOpen:   time.Minute,
		HalfOpenSuccesses:    1,
	})

	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	b.RecordFailure(time.Millisecond)
	if b.State() != StateClosed {
		t.Fatalf("expected CLOSED while window isn't full yet, got %s", b.State())
	}
}
