package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/resilience"
)

// Engine is C3's public surface: a policy-driven Check over the counter
// store, with the resilience envelope (C2) wrapping every call.
type Engine struct {
	store    counterstore.Store
	envelope *resilience.Envelope
}

// NewEngine wires a counter store and a resilience envelope together and
// asserts every Algorithm has a registered Strategy.
func NewEngine(store counterstore.Store, envelope *resilience.Envelope) *Engine {
	MustBeComplete()
	return &Engine{store: store, envelope: envelope}
}

// algorithmPrefix namespaces counter-store keys by algorithm so the same
// identifier can be rate limited under different policies without collision.
func algorithmPrefix(alg model.Algorithm) string {
	switch alg {
	case model.AlgorithmTokenBucket:
		return "token"
	case model.AlgorithmFixedWindow:
		return "fixed"
	case model.AlgorithmSlidingLog:
		return "sliding"
	default:
		return "unknown"
	}
}

// Outcome is what Engine.Check hands back to the orchestrator: the shaped
// verdict plus whether it came from the breaker's fallback path.
type Outcome struct {
	Result
	UsedFallback bool
	BreakerOpen  bool
}

// Check resolves the Strategy for policy.Algorithm, builds the counter-store
// key, and runs the call through the resilience envelope.
func (e *Engine) Check(ctx context.Context, identifier string, scope model.Scope, policy *model.Policy, now time.Time, increment int) (Outcome, error) {
	if identifier == "" {
		return Outcome{}, fmt.Errorf("ratelimit: empty identifier")
	}
	if policy == nil {
		return Outcome{}, fmt.Errorf("ratelimit: nil policy")
	}

	strategy, ok := StrategyFor(policy.Algorithm)
	if !ok {
		return Outcome{}, fmt.Errorf("ratelimit: no strategy for algorithm %s", policy.Algorithm)
	}

	key := counterstore.Key(algorithmPrefix(policy.Algorithm), strings.ToLower(string(scope)), identifier)

	res, err := e.envelope.Execute(ctx, policy.FailMode, func(ctx context.Context) (counterstore.ScriptResult, error) {
		return strategy.Check(ctx, e.store, key, policy, now, increment)
	})

	shaped := strategy.Shape(res.ScriptResult, policy)
	if res.UsedFallback && shaped.Allowed {
		// The envelope's fail-open fallback doesn't know the policy's limit,
		// so it reports Remaining=-1 as a sentinel; fill in the real value
		// here per spec.md §4.2 (fallback reports remaining=maxRequests).
		shaped.Remaining = shaped.Limit
	}
	return Outcome{Result: shaped, UsedFallback: res.UsedFallback, BreakerOpen: res.BreakerOpen}, err
}
