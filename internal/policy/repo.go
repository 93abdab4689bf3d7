// Package policy implements C4: mapping a CheckRequest to exactly one Policy
// by the precedence chain spec.md §4.4 defines, with a bounded, TTL'd,
// singleflight-coalesced cache in front of the repositories.
package policy

import (
	"context"

	"github.com/google/uuid"

	"github.com/sergeybar/ratesentry/internal/model"
)

// The repository interfaces below are ports C4 depends on; internal/store
// provides the pgx-backed adapters. Keeping them here (rather than in
// internal/store) lets the resolver depend only on behavior it needs, in the
// spirit of the teacher's provider.Registry abstracting over concrete
// backends.

type PolicyRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Policy, error)
	TenantDefault(ctx context.Context, tenantID uuid.UUID) (*model.Policy, error)
	GlobalDefault(ctx context.Context) (*model.Policy, error)
}

type ApiKeyRepo interface {
	GetByHash(ctx context.Context, keyHash string) (*model.ApiKey, error)
}

type IpRuleRepo interface {
	// MatchingRateLimitRules returns enabled RATE_LIMIT rules matching ip,
	// rules of tenantID (when non-nil) ahead of tenant-less ones, then
	// most-specific/newest first.
	MatchingRateLimitRules(ctx context.Context, ip string, tenantID *uuid.UUID) ([]model.IpRule, error)
}

type PolicyRuleRepo interface {
	// EnabledRulesOrderedByPriority returns every enabled PolicyRule in
	// descending priority, ties broken by ascending CreatedAt.
	EnabledRulesOrderedByPriority(ctx context.Context) ([]model.PolicyRule, error)
}

type UserPolicyRepo interface {
	GetByUserAndTenant(ctx context.Context, userID string, tenantID uuid.UUID) (*model.UserPolicy, error)
}

// APIKeyHasher is the one-way transform applied to a raw API key before it is
// ever compared or stored. Grounded on the teacher's auth middleware, which
// treats API keys as opaque bearer credentials — the concrete hash function
// is supplied by the composition root (cmd/ratesentryd), so this is a seam,
// not an implementation.
type APIKeyHasher func(raw string) string
