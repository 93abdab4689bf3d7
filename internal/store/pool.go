// Package store provides the pgx-backed persistence layer: Policy, Tenant,
// ApiKey, IpRule, UserPolicy, PolicyRule, AlertRule, and the append-only
// RateLimitEvent log. Grounded on the teacher's wisbric-nightowl pack
// sibling's pkg/apikey/store.go: a Store wrapping a *pgxpool.Pool, scan
// helpers, parameterized SQL, fmt.Errorf wrapping.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgxpool against databaseURL and verifies connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}
