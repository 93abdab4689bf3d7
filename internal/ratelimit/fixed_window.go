package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
)

func init() {
	register(fixedWindowStrategy{})
}

type fixedWindowStrategy struct{}

func (fixedWindowStrategy) Algorithm() model.Algorithm { return model.AlgorithmFixedWindow }

func (fixedWindowStrategy) Check(ctx context.Context, store counterstore.Store, key string, policy *model.Policy, now time.Time, increment int) (counterstore.ScriptResult, error) {
	if key == "" {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: empty key for fixed window check")
	}
	if policy == nil {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: nil policy for fixed window check")
	}
	return store.FixedWindow(ctx, key, counterstore.FixedWindowArgs{
		MaxRequests: policy.MaxRequests,
		WindowSec:   policy.WindowSeconds,
		NowSec:      now.Unix(),
		Increment:   increment,
	})
}

func (fixedWindowStrategy) Shape(raw counterstore.ScriptResult, policy *model.Policy) Result {
	return Result{
		Allowed:           raw.Allowed,
		Remaining:         int(raw.Remaining),
		Limit:             policy.MaxRequests,
		ResetInSeconds:    int(raw.ResetInSec),
		RetryAfterSeconds: retryAfter(raw),
	}
}
