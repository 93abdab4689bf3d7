package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/sergeybar/ratesentry/internal/counterstore"
	"github.com/sergeybar/ratesentry/internal/model"
)

func init() {
	register(slidingLogStrategy{})
}

type slidingLogStrategy struct{}

func (slidingLogStrategy) Algorithm() model.Algorithm { return model.AlgorithmSlidingLog }

func (slidingLogStrategy) Check(ctx context.Context, store counterstore.Store, key string, policy *model.Policy, now time.Time, increment int) (counterstore.ScriptResult, error) {
	if key == "" {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: empty key for sliding log check")
	}
	if policy == nil {
		return counterstore.ScriptResult{}, fmt.Errorf("ratelimit: nil policy for sliding log check")
	}
	windowMs := int64(policy.WindowSeconds) * 1000
	return store.SlidingLog(ctx, key, counterstore.SlidingLogArgs{
		MaxRequests: policy.MaxRequests,
		WindowMs:    windowMs,
		NowMs:       now.UnixMilli(),
		Increment:   increment,
		TTLSec:      ttlForWindow(policy.WindowSeconds),
	})
}

func (slidingLogStrategy) Shape(raw counterstore.ScriptResult, policy *model.Policy) Result {
	return Result{
		Allowed:           raw.Allowed,
		Remaining:         int(raw.Remaining),
		Limit:             policy.MaxRequests,
		ResetInSeconds:    int(raw.ResetInSec),
		RetryAfterSeconds: retryAfter(raw),
	}
}
