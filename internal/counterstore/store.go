// Package counterstore implements C1: atomic script execution against a
// shared fast KV store (Redis), plus best-effort pattern deletion. Adapted
// from the teacher's redisclient package — same connection shape, extended
// with the three Lua scripts spec.md §4.1 requires.
package counterstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketArgs are the inputs to the token-bucket script.
type TokenBucketArgs struct {
	Capacity   int
	RefillRate float64
	NowMs      int64
	Requested  int
	TTLSec     int
}

// FixedWindowArgs are the inputs to the fixed-window script.
type FixedWindowArgs struct {
	MaxRequests int
	WindowSec   int
	NowSec      int64
	Increment   int
}

// SlidingLogArgs are the inputs to the sliding-log script.
type SlidingLogArgs struct {
	MaxRequests int
	WindowMs    int64
	NowMs       int64
	Increment   int
	TTLSec      int
}

// Store is the single primitive C1 exposes: atomic script execution, plus
// best-effort pattern deletion for administrative resets.
type Store interface {
	TokenBucket(ctx context.Context, key string, args TokenBucketArgs) (ScriptResult, error)
	FixedWindow(ctx context.Context, key string, args FixedWindowArgs) (ScriptResult, error)
	SlidingLog(ctx context.Context, key string, args SlidingLogArgs) (ScriptResult, error)
	DeleteByPattern(ctx context.Context, glob string) error
	Ping(ctx context.Context) error
}

// memberSeq backs sliding-log member uniqueness: spec.md §9 notes the exact
// PRNG isn't load-bearing, only that members are unique, and recommends a
// monotonic per-process counter plus nanosecond time — that's what this is.
var memberSeq int64

// RedisStore is the production Store backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// New creates a RedisStore from a Redis URL.
func New(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opt)}, nil
}

// NewFromClient wraps an already-constructed *redis.Client — used by tests
// to point at a miniredis instance.
func NewFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Key builds the "rl:{token|fixed|sliding}:{scope_lowercase}:{identifier}"
// namespace spec.md §4.1 defines.
func Key(algorithmPrefix, scopeLower, identifier string) string {
	return fmt.Sprintf("rl:%s:%s:%s", algorithmPrefix, scopeLower, identifier)
}

func (s *RedisStore) TokenBucket(ctx context.Context, key string, args TokenBucketArgs) (ScriptResult, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{key},
		args.Capacity, args.RefillRate, args.NowMs, args.Requested, args.TTLSec,
	).Slice()
	if err != nil {
		return ScriptResult{}, fmt.Errorf("token bucket script: %w", err)
	}
	return parseResult(res)
}

func (s *RedisStore) FixedWindow(ctx context.Context, key string, args FixedWindowArgs) (ScriptResult, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{key},
		args.MaxRequests, args.WindowSec, args.NowSec, args.Increment,
	).Slice()
	if err != nil {
		return ScriptResult{}, fmt.Errorf("fixed window script: %w", err)
	}
	return parseResult(res)
}

func (s *RedisStore) SlidingLog(ctx context.Context, key string, args SlidingLogArgs) (ScriptResult, error) {
	member := fmt.Sprintf("%d-%d", time.Now().UnixNano(), atomic.AddInt64(&memberSeq, 1))
	res, err := slidingLogScript.Run(ctx, s.client, []string{key},
		args.MaxRequests, args.WindowMs, args.NowMs, args.Increment, args.TTLSec, member,
	).Slice()
	if err != nil {
		return ScriptResult{}, fmt.Errorf("sliding log script: %w", err)
	}
	return parseResult(res)
}

// DeleteByPattern is a best-effort administrative reset: SCAN to avoid
// blocking the server on KEYS, UNLINK to avoid blocking on large deletes.
func (s *RedisStore) DeleteByPattern(ctx context.Context, glob string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, glob, 100).Result()
		if err != nil {
			return fmt.Errorf("scanning pattern %q: %w", glob, err)
		}
		if len(keys) > 0 {
			if err := s.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("unlinking keys for pattern %q: %w", glob, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func parseResult(res []interface{}) (ScriptResult, error) {
	if len(res) != 3 {
		return ScriptResult{}, fmt.Errorf("unexpected script result shape: %d fields", len(res))
	}
	allowed, err := toInt64(res[0])
	if err != nil {
		return ScriptResult{}, err
	}
	remaining, err := toInt64(res[1])
	if err != nil {
		return ScriptResult{}, err
	}
	resetInSec, err := toInt64(res[2])
	if err != nil {
		return ScriptResult{}, err
	}
	return ScriptResult{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		ResetInSec: resetInSec,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected script field type %T", v)
	}
}
