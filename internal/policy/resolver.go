package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sergeybar/ratesentry/internal/model"
)

const globalDefaultKey = "global"

// CacheInvalidator is the narrow surface httpapi's admin handlers need to
// evict stale cache entries after a write, without depending on *Resolver
// directly.
type CacheInvalidator interface {
	InvalidatePolicy(id uuid.UUID)
	InvalidateTenantDefault(tenantID uuid.UUID)
	InvalidateGlobalDefault()
	InvalidateAPIKey(keyHash string)
	InvalidateUserPolicy(userID string, tenantID uuid.UUID)
}

// Outcome is what Resolve hands back: a usable Policy with an empty Reason,
// the resolved but disabled Policy with Reason POLICY_DISABLED, or no Policy
// with Reason POLICY_NOT_FOUND.
type Outcome struct {
	Policy *model.Policy
	Reason model.DenyReason // "" when Policy is set and enabled
}

// Resolver implements C4's precedence chain over a set of repositories, with
// a cache layer in front of each lookup.
type Resolver struct {
	policies     PolicyRepo
	apiKeys      ApiKeyRepo
	ipRules      IpRuleRepo
	policyRules  PolicyRuleRepo
	userPolicies UserPolicyRepo
	hashAPIKey   APIKeyHasher

	policyByID     *cache[*model.Policy]
	tenantDefault  *cache[*model.Policy]
	globalDefault  *cache[*model.Policy]
	apiKeyByHash   *cache[*model.ApiKey]
	userPolicy     *cache[*model.UserPolicy]
}

// Config parameterizes the cache layer shared by every lookup kind.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// NewResolver wires the repositories and cache configuration together.
func NewResolver(policies PolicyRepo, apiKeys ApiKeyRepo, ipRules IpRuleRepo, policyRules PolicyRuleRepo, userPolicies UserPolicyRepo, hashAPIKey APIKeyHasher, cfg Config) *Resolver {
	return &Resolver{
		policies:      policies,
		apiKeys:       apiKeys,
		ipRules:       ipRules,
		policyRules:   policyRules,
		userPolicies:  userPolicies,
		hashAPIKey:    hashAPIKey,
		policyByID:    newCache[*model.Policy](cfg.TTL, cfg.MaxEntries),
		tenantDefault: newCache[*model.Policy](cfg.TTL, cfg.MaxEntries),
		globalDefault: newCache[*model.Policy](cfg.TTL, cfg.MaxEntries),
		apiKeyByHash:  newCache[*model.ApiKey](cfg.TTL, cfg.MaxEntries),
		userPolicy:    newCache[*model.UserPolicy](cfg.TTL, cfg.MaxEntries),
	}
}

// InvalidatePolicy evicts a single cached policy — call on policy update.
func (r *Resolver) InvalidatePolicy(id uuid.UUID) {
	r.policyByID.invalidate(id.String())
}

// InvalidateTenantDefault evicts a tenant's cached default policy.
func (r *Resolver) InvalidateTenantDefault(tenantID uuid.UUID) {
	r.tenantDefault.invalidate(tenantID.String())
}

// InvalidateGlobalDefault evicts the cached global default policy.
func (r *Resolver) InvalidateGlobalDefault() {
	r.globalDefault.invalidate(globalDefaultKey)
}

// InvalidateAPIKey evicts a single cached API key lookup.
func (r *Resolver) InvalidateAPIKey(keyHash string) {
	r.apiKeyByHash.invalidate(keyHash)
}

// InvalidateUserPolicy evicts a single cached user binding.
func (r *Resolver) InvalidateUserPolicy(userID string, tenantID uuid.UUID) {
	r.userPolicy.invalidate(userPolicyKey(userID, tenantID))
}

func userPolicyKey(userID string, tenantID uuid.UUID) string {
	return userID + ":" + tenantID.String()
}

// Resolve runs the 8-step precedence chain from spec.md §4.4, stopping at
// the first hit. A disabled resolved policy short-circuits as
// POLICY_DISABLED rather than falling through to the next step.
func (r *Resolver) Resolve(ctx context.Context, req *model.CheckRequest) (Outcome, error) {
	if policyID := req.PolicyID; policyID != nil {
		id, err := uuid.Parse(*policyID)
		if err == nil {
			p, err := r.fetchPolicyByID(ctx, id)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: resolving explicit policyId: %w", err)
			}
			if p != nil {
				return finalize(p), nil
			}
		}
	}

	if req.APIKey != nil && *req.APIKey != "" {
		key, err := r.fetchAPIKey(ctx, r.hashAPIKey(*req.APIKey))
		if err != nil {
			return Outcome{}, fmt.Errorf("policy: resolving api key: %w", err)
		}
		if key != nil && key.Active(time.Now()) && key.PolicyID != nil {
			p, err := r.fetchPolicyByID(ctx, *key.PolicyID)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: loading api key policy: %w", err)
			}
			if p != nil {
				return finalize(p), nil
			}
		}
	}

	if req.IPAddress != nil && *req.IPAddress != "" {
		var tenantID *uuid.UUID
		if req.TenantID != nil {
			if id, err := uuid.Parse(*req.TenantID); err == nil {
				tenantID = &id
			}
		}
		rules, err := r.ipRules.MatchingRateLimitRules(ctx, *req.IPAddress, tenantID)
		if err != nil {
			return Outcome{}, fmt.Errorf("policy: matching ip rules: %w", err)
		}
		if len(rules) > 0 {
			p, err := r.fetchPolicyByID(ctx, rules[0].PolicyID)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: loading ip rule policy: %w", err)
			}
			if p != nil {
				return finalize(p), nil
			}
		}
	}

	if req.Resource != nil && *req.Resource != "" {
		rules, err := r.policyRules.EnabledRulesOrderedByPriority(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("policy: loading url rules: %w", err)
		}
		method := ""
		if req.Method != nil {
			method = *req.Method
		}
		for _, rule := range rules {
			if !matchGlob(rule.ResourcePattern, *req.Resource) {
				continue
			}
			if !methodMatches(rule.HTTPMethods, method) {
				continue
			}
			p, err := r.fetchPolicyByID(ctx, rule.PolicyID)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: loading url rule policy: %w", err)
			}
			if p != nil {
				return finalize(p), nil
			}
			break
		}
	}

	if req.Scope == model.ScopeUser && req.TenantID != nil {
		tenantID, err := uuid.Parse(*req.TenantID)
		if err == nil {
			up, err := r.fetchUserPolicy(ctx, req.Identifier, tenantID)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: resolving user binding: %w", err)
			}
			if up != nil && up.Enabled {
				p, err := r.fetchPolicyByID(ctx, up.PolicyID)
				if err != nil {
					return Outcome{}, fmt.Errorf("policy: loading user binding policy: %w", err)
				}
				if p != nil {
					return finalize(p), nil
				}
			}
		}
	}

	if req.TenantID != nil {
		tenantID, err := uuid.Parse(*req.TenantID)
		if err == nil {
			p, err := r.fetchTenantDefault(ctx, tenantID)
			if err != nil {
				return Outcome{}, fmt.Errorf("policy: resolving tenant default: %w", err)
			}
			if p != nil {
				return finalize(p), nil
			}
		}
	}

	p, err := r.fetchGlobalDefault(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("policy: resolving global default: %w", err)
	}
	if p != nil {
		return finalize(p), nil
	}

	return Outcome{Reason: model.ReasonPolicyNotFound}, nil
}

func finalize(p *model.Policy) Outcome {
	if !p.Enabled {
		return Outcome{Policy: p, Reason: model.ReasonPolicyDisabled}
	}
	return Outcome{Policy: p}
}

func methodMatches(allowed []string, method string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, m := range allowed {
		if m == method {
			return true
		}
	}
	return false
}

func (r *Resolver) fetchPolicyByID(ctx context.Context, id uuid.UUID) (*model.Policy, error) {
	return r.policyByID.getOrLoad(ctx, id.String(), func(ctx context.Context) (*model.Policy, bool, error) {
		p, err := r.policies.GetByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return p, p != nil, nil
	})
}

func (r *Resolver) fetchAPIKey(ctx context.Context, hash string) (*model.ApiKey, error) {
	return r.apiKeyByHash.getOrLoad(ctx, hash, func(ctx context.Context) (*model.ApiKey, bool, error) {
		k, err := r.apiKeys.GetByHash(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		return k, k != nil, nil
	})
}

func (r *Resolver) fetchUserPolicy(ctx context.Context, userID string, tenantID uuid.UUID) (*model.UserPolicy, error) {
	return r.userPolicy.getOrLoad(ctx, userPolicyKey(userID, tenantID), func(ctx context.Context) (*model.UserPolicy, bool, error) {
		up, err := r.userPolicies.GetByUserAndTenant(ctx, userID, tenantID)
		if err != nil {
			return nil, false, err
		}
		return up, up != nil, nil
	})
}

func (r *Resolver) fetchTenantDefault(ctx context.Context, tenantID uuid.UUID) (*model.Policy, error) {
	return r.tenantDefault.getOrLoad(ctx, tenantID.String(), func(ctx context.Context) (*model.Policy, bool, error) {
		p, err := r.policies.TenantDefault(ctx, tenantID)
		if err != nil {
			return nil, false, err
		}
		return p, p != nil, nil
	})
}

func (r *Resolver) fetchGlobalDefault(ctx context.Context) (*model.Policy, error) {
	return r.globalDefault.getOrLoad(ctx, globalDefaultKey, func(ctx context.Context) (*model.Policy, bool, error) {
		p, err := r.policies.GlobalDefault(ctx)
		if err != nil {
			return nil, false, err
		}
		return p, p != nil, nil
	})
}
