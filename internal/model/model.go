// Package model holds the core entities of the rate-limiting domain: policies
// and the configuration graph that binds callers to them, plus the verdict and
// event types that flow through the decision path.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Scope is the taxonomy label indicating what a Policy is keyed by.
type Scope string

const (
	ScopeGlobal Scope = "GLOBAL"
	ScopeTenant Scope = "TENANT"
	ScopeUser   Scope = "USER"
	ScopeAPI    Scope = "API"
	ScopeIP     Scope = "IP"
)

// Algorithm selects which rate-limiting strategy a Policy executes.
type Algorithm string

const (
	AlgorithmTokenBucket Algorithm = "TOKEN_BUCKET"
	AlgorithmFixedWindow Algorithm = "FIXED_WINDOW"
	AlgorithmSlidingLog  Algorithm = "SLIDING_LOG"
)

// FailMode chooses what happens to traffic when the counter store is unavailable.
type FailMode string

const (
	FailOpen   FailMode = "FAIL_OPEN"
	FailClosed FailMode = "FAIL_CLOSED"
)

// IdentifierType classifies the identifier carried on a RateLimitEvent.
type IdentifierType string

const (
	IdentifierUser   IdentifierType = "USER"
	IdentifierAPIKey IdentifierType = "API_KEY"
	IdentifierIP     IdentifierType = "IP"
	IdentifierTenant IdentifierType = "TENANT"
	IdentifierGlobal IdentifierType = "GLOBAL"
)

// DenyReason enumerates the values the Check API may surface on denial.
type DenyReason string

const (
	ReasonRateLimitExceeded DenyReason = "RATE_LIMIT_EXCEEDED"
	ReasonPolicyNotFound    DenyReason = "POLICY_NOT_FOUND"
	ReasonPolicyDisabled    DenyReason = "POLICY_DISABLED"
	ReasonCircuitBreakerOpen DenyReason = "CIRCUIT_BREAKER_OPEN"
)

// Policy is the configuration record selecting an algorithm and its parameters
// for a class of callers.
type Policy struct {
	ID            uuid.UUID
	Name          string
	TenantID      *uuid.UUID
	Scope         Scope
	Algorithm     Algorithm
	MaxRequests   int
	WindowSeconds int
	BurstCapacity *int
	RefillRate    *float64
	FailMode      FailMode
	Enabled       bool
	IsDefault     bool
	CreatedAt     time.Time
}

// EffectiveCapacity returns the token-bucket capacity to use, honoring the
// BurstCapacity override per spec.md §3.
func (p *Policy) EffectiveCapacity() int {
	if p.BurstCapacity != nil {
		return *p.BurstCapacity
	}
	return p.MaxRequests
}

// EffectiveRefillRate returns the token-bucket refill rate (tokens/sec),
// honoring the RefillRate override per spec.md §3.
func (p *Policy) EffectiveRefillRate() float64 {
	if p.RefillRate != nil {
		return *p.RefillRate
	}
	if p.WindowSeconds <= 0 {
		return 0
	}
	return float64(p.MaxRequests) / float64(p.WindowSeconds)
}

// Tenant owns zero or more policies, API keys, IP rules, and user bindings.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Tier      string
	Enabled   bool
	CreatedAt time.Time
}

// ApiKey binds a hashed API key to a tenant and optionally a policy.
type ApiKey struct {
	ID        uuid.UUID
	KeyHash   string
	KeyPrefix string
	TenantID  uuid.UUID
	PolicyID  *uuid.UUID
	Enabled   bool
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the key may currently be used, per spec.md §3:
// "enabled ∧ (expiresAt == null ∨ expiresAt > now)".
func (k *ApiKey) Active(now time.Time) bool {
	if !k.Enabled {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// IpRuleType classifies an IpRule's purpose. Only RATE_LIMIT is accepted by
// write-time validation today — see DESIGN.md for the open question around the
// lifecycle of BLACKLIST/WHITELIST rows the repository can still query.
type IpRuleType string

const (
	IpRuleTypeRateLimit IpRuleType = "RATE_LIMIT"
	IpRuleTypeBlacklist IpRuleType = "BLACKLIST"
	IpRuleTypeWhitelist IpRuleType = "WHITELIST"
)

// IpRule matches a single IP address or a CIDR block to a policy.
type IpRule struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	IPAddress *string
	IPCIDR    *string
	PolicyID  uuid.UUID
	RuleType  IpRuleType
	Enabled   bool
	CreatedAt time.Time
}

// UserPolicy binds a (userID, tenantID) pair to a policy.
type UserPolicy struct {
	ID        uuid.UUID
	UserID    string
	TenantID  uuid.UUID
	PolicyID  uuid.UUID
	Enabled   bool
	CreatedAt time.Time
}

// PolicyRule binds a URL glob pattern (and optional HTTP methods) to a policy.
type PolicyRule struct {
	ID              uuid.UUID
	PolicyID        uuid.UUID
	ResourcePattern string
	HTTPMethods     []string // empty = all methods
	Priority        int
	Enabled         bool
	CreatedAt       time.Time
}

// AlertRule fires when a policy's deny rate crosses a threshold over a window.
type AlertRule struct {
	ID                  uuid.UUID
	Name                string
	PolicyID            uuid.UUID
	ThresholdPercentage float64
	WindowSeconds       int
	CooldownSeconds     int
	Enabled             bool
	LastTriggeredAt     *time.Time
	CreatedAt           time.Time
}

// RateLimitEvent is an append-only record of a single check verdict.
type RateLimitEvent struct {
	ID             uuid.UUID
	PolicyID       uuid.UUID
	Identifier     string
	IdentifierType IdentifierType
	Allowed        bool
	Remaining      int
	LimitValue     int
	IPAddress      *string
	Resource       *string
	EventTime      time.Time
	PartitionKey   string // derived yyyy-MM of EventTime
}

// PartitionKeyFor derives the "yyyy-MM" partition key for a given instant.
func PartitionKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}
