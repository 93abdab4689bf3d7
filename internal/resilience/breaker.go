// Package resilience wraps calls to the counter store with a circuit breaker
// and bounded retry, so a struggling Redis does not become a struggling API.
// There is no breaker/retry library anywhere in the reference pack (see
// DESIGN.md), so this is hand-rolled in the teacher's atomic-counter style —
// see analytics.Pipeline's use of atomic counters for the same texture.
package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// halfOpenProbeRate caps how often a HALF_OPEN breaker lets a call through
// to test recovery. Without this, every concurrent caller would be allowed
// through the instant the breaker flips to HALF_OPEN, turning the probe
// into exactly the thundering herd the breaker exists to prevent.
const halfOpenProbeRate = 2 // probes per second

// BreakerState is one of the three states spec.md §4.2 names.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig parameterizes the state machine.
type BreakerConfig struct {
	FailureRateThreshold float64       // percentage, 0-100
	SlidingWindowSize    int           // number of calls the rate is computed over
	WaitDurationInOpen   time.Duration // how long OPEN waits before probing
	HalfOpenSuccesses    int           // consecutive successes needed to close

	// SlowCallDurationThreshold and SlowCallRateThreshold implement spec.md
	// §4.2's second trip condition: a window of calls that mostly succeed
	// but are slow is just as much a struggling dependency as one that's
	// failing outright. Zero SlowCallDurationThreshold disables slow-call
	// tracking entirely.
	SlowCallDurationThreshold time.Duration
	SlowCallRateThreshold     float64 // percentage, 0-100
}

// callOutcome is one call's result over the sliding window: whether it
// succeeded, and whether it crossed SlowCallDurationThreshold.
type callOutcome struct {
	success bool
	slow    bool
}

// Breaker is a call-result sliding-window circuit breaker. It is safe for
// concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	results         []callOutcome // ring buffer of recent call outcomes
	nextIdx         int
	openedAt        time.Time
	halfOpenSuccess int
	probeLimiter    *rate.Limiter
}

// NewBreaker constructs a Breaker in the CLOSED state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.SlidingWindowSize <= 0 {
		cfg.SlidingWindowSize = 20
	}
	return &Breaker{
		cfg:          cfg,
		state:        StateClosed,
		results:      make([]callOutcome, 0, cfg.SlidingWindowSize),
		probeLimiter: rate.NewLimiter(rate.Limit(halfOpenProbeRate), 1),
	}
}

// State returns the breaker's current state, transitioning OPEN->HALF_OPEN
// if the wait duration has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// Allow reports whether a call should be attempted right now, transitioning
// OPEN->HALF_OPEN as a side effect when the wait duration has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	if b.state == StateOpen {
		return false
	}
	if b.state == StateHalfOpen {
		return b.probeLimiter.Allow()
	}
	return true
}

// maybeProbe moves OPEN to HALF_OPEN once WaitDurationInOpen has passed.
// Caller must hold b.mu.
func (b *Breaker) maybeProbe() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.WaitDurationInOpen {
		b.state = StateHalfOpen
		b.halfOpenSuccess = 0
		b.probeLimiter.SetBurst(1)
	}
}

// RecordSuccess reports a successful call outcome and how long it took.
func (b *Breaker) RecordSuccess(duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenSuccesses {
			b.close()
		}
	case StateClosed:
		b.record(true, b.isSlow(duration))
		if b.shouldTrip() {
			b.open()
		}
	}
}

// RecordFailure reports a failed call outcome and how long it took. Any
// failure while HALF_OPEN reopens the breaker immediately, per spec.md §4.2.
func (b *Breaker) RecordFailure(duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		b.record(false, b.isSlow(duration))
		if b.shouldTrip() {
			b.open()
		}
	}
}

// isSlow reports whether duration crosses SlowCallDurationThreshold.
// A zero threshold disables slow-call tracking.
func (b *Breaker) isSlow(duration time.Duration) bool {
	return b.cfg.SlowCallDurationThreshold > 0 && duration >= b.cfg.SlowCallDurationThreshold
}

// record appends an outcome to the sliding window, evicting the oldest entry
// once the window is full.
func (b *Breaker) record(success, slow bool) {
	outcome := callOutcome{success: success, slow: slow}
	if len(b.results) < cap(b.results) {
		b.results = append(b.results, outcome)
		return
	}
	b.results[b.nextIdx] = outcome
	b.nextIdx = (b.nextIdx + 1) % cap(b.results)
}

// shouldTrip computes the failure rate and the slow-call rate over the
// current window and compares each against its configured threshold,
// per spec.md §4.2's "failure rate and slow-call rate" trip conditions.
// The window must be full before a trip is considered, so a handful of
// cold-start failures can't open the breaker.
func (b *Breaker) shouldTrip() bool {
	if len(b.results) < cap(b.results) {
		return false
	}
	failures, slows := 0, 0
	for _, o := range b.results {
		if !o.success {
			failures++
		}
		if o.slow {
			slows++
		}
	}
	n := float64(len(b.results))
	if float64(failures)/n*100 >= b.cfg.FailureRateThreshold {
		return true
	}
	if b.cfg.SlowCallRateThreshold > 0 && float64(slows)/n*100 >= b.cfg.SlowCallRateThreshold {
		return true
	}
	return false
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.results = b.results[:0]
	b.nextIdx = 0
}

func (b *Breaker) close() {
	b.state = StateClosed
	b.results = b.results[:0]
	b.nextIdx = 0
	b.halfOpenSuccess = 0
}
