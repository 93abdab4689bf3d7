package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/telemetry"
)

// ErrBreakerOpen is returned (alongside a fallback Result) when the breaker
// rejected the call outright without attempting the underlying store.
var ErrBreakerOpen = errors.New("resilience: circuit breaker open")

// Result is a ScriptResult plus the bookkeeping the orchestrator needs to
// pick the right DenyReason.
type Result struct {
	counterstore.ScriptResult
	UsedFallback bool
	BreakerOpen  bool
}

// Call is the shape of a single counter-store invocation the envelope wraps.
type Call func(ctx context.Context) (counterstore.ScriptResult, error)

// Envelope wraps calls to the counter store
// with a circuit breaker and bounded retry, falling back per FailMode when
// the store can't be reached. One Envelope instance is meant to be shared
// across calls for the same logical dependency (the counter store as a
// whole), not allocated per request — the breaker's window is cumulative.
type Envelope struct {
	breaker   *Breaker
	retryCfg  RetryConfig
}

// NewEnvelope constructs an Envelope around a fresh Breaker.
func NewEnvelope(breakerCfg BreakerConfig, retryCfg RetryConfig) *Envelope {
	return &Envelope{
		breaker:  NewBreaker(breakerCfg),
		retryCfg: retryCfg,
	}
}

// State exposes the underlying breaker's state, for health/metrics reporting.
func (e *Envelope) State() BreakerState {
	return e.breaker.State()
}

// Execute runs call under retry and breaker protection. If the breaker is
// open, or every retry attempt fails, it returns a fallback Result shaped by
// failMode together with the error (ErrBreakerOpen or the call's last
// error) — per spec.md §4.2, a missing
// policy defaults callers to model.FailClosed before they ever reach here.
func (e *Envelope) Execute(ctx context.Context, failMode model.FailMode, call Call) (Result, error) {
	telemetry.BreakerStateGauge.WithLabelValues("counterstore").Set(breakerStateValue(e.breaker.State()))

	if !e.breaker.Allow() {
		telemetry.FallbacksTotal.WithLabelValues(string(failMode)).Inc()
		return fallbackResult(failMode, true), ErrBreakerOpen
	}

	start := time.Now()
	attempt := 0
	var res counterstore.ScriptResult
	err := withRetry(ctx, e.retryCfg, isRetryable, func() error {
		if attempt > 0 {
			telemetry.RetriesTotal.Inc()
		}
		attempt++
		r, callErr := call(ctx)
		if callErr != nil {
			return callErr
		}
		res = r
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		wasClosed := e.breaker.State() == StateClosed
		e.breaker.RecordFailure(elapsed)
		if wasClosed && e.breaker.State() == StateOpen {
			telemetry.BreakerTripsTotal.Inc()
		}
		telemetry.FallbacksTotal.WithLabelValues(string(failMode)).Inc()
		return fallbackResult(failMode, false), err
	}

	wasClosed := e.breaker.State() == StateClosed
	e.breaker.RecordSuccess(elapsed)
	if wasClosed && e.breaker.State() == StateOpen {
		telemetry.BreakerTripsTotal.Inc()
	}
	return Result{ScriptResult: res}, nil
}

// isRetryable treats every counter-store error as transient: the only
// failures we see at this layer are network/timeout errors from go-redis,
// never validation errors (those are caught before the call is made).
func isRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func breakerStateValue(s BreakerState) float64 {
	switch s {
	case StateOpen:
		return 1
	case StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func fallbackResult(failMode model.FailMode, breakerOpen bool) Result {
	switch failMode {
	case model.FailOpen:
		return Result{
			ScriptResult: counterstore.ScriptResult{Allowed: true, Remaining: -1, ResetInSec: 0},
			UsedFallback: true,
			BreakerOpen:  breakerOpen,
		}
	default: // model.FailClosed, and the zero value
		return Result{
			ScriptResult: counterstore.ScriptResult{Allowed: false, Remaining: 0, ResetInSec: 0},
			UsedFallback: true,
			BreakerOpen:  breakerOpen,
		}
	}
}
