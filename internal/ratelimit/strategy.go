// Package ratelimit implements C3: the three rate-limiting algorithms
// spec.md §4 names, each shaping a counterstore.ScriptResult into the
// verdict the orchestrator hands back to callers.
package ratelimit

import (
	"context"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
)

// Result is the algorithm-agnostic verdict a Strategy produces.
type Result struct {
	Allowed           bool
	Remaining         int
	Limit             int
	ResetInSeconds    int
	RetryAfterSeconds int
}

// Strategy computes a Result for one algorithm against a counter store.
type Strategy interface {
	Algorithm() model.Algorithm

	// Check rejects an empty key or a nil policy, then invokes store and
	// returns its raw ScriptResult; Shape turns that into a Result.
	Check(ctx context.Context, store counterstore.Store, key string, policy *model.Policy, now time.Time, increment int) (counterstore.ScriptResult, error)

	// Shape converts a raw ScriptResult plus the policy into the public Result.
	Shape(raw counterstore.ScriptResult, policy *model.Policy) Result
}
