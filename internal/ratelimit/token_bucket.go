package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
)

func init() {
	register(tokenBucketStrategy{})
}

type tokenBucketStrategy struct{}

func (tokenBucketStrategy) Algorithm() model.Algorithm { return model.AlgorithmTokenBucket }

func (tokenBucketStrategy) Check(ctx context.Context, store counterstore.Store, key string, policy *model.Policy, now time.Time, increment int) (counterstore.ScriptResult, error) {
	if key == "" {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: empty key for token bucket check")
	}
	if policy == nil {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: nil policy for token bucket check")
	}
	return store.TokenBucket(ctx, key, counterstore.TokenBucketArgs{
		Capacity:   policy.EffectiveCapacity(),
		RefillRate: policy.EffectiveRefillRate(),
		NowMs:      now.UnixMilli(),
		Requested:  increment,
		TTLSec:     ttlForWindow(policy.WindowSeconds),
	})
}

func (tokenBucketStrategy) Shape(raw counterstore.ScriptResult, policy *model.Policy) Result {
	return Result{
		Allowed:           raw.Allowed,
		Remaining:         int(raw.Remaining),
		Limit:             policy.MaxRequests,
		ResetInSeconds:    int(raw.ResetInSec),
		RetryAfterSeconds: retryAfter(raw),
	}
}

// ttlForWindow guards the state key against leaking forever for an idle
// identifier: keep it around for two windows so a burst right at the
// boundary still sees accumulated state.
func ttlForWindow(windowSeconds int) int {
	if windowSeconds <= 0 {
		return 60
	}
	return windowSeconds * 2
}

func retryAfter(raw counterstore.ScriptResult) int {
	if raw.Allowed {
		return 0
	}
	return int(raw.ResetInSec)
}
