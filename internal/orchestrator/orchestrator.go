// Package orchestrator implements C5: the public Check entry point tying
// the policy resolver (C4), the algorithm engine (C2+C3), and the event
// sink (C6) together into a single synchronous call plus a fire-and-forget
// event emission.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/policy"
	"github.com/sergeybar/ratesentry/internal/ratelimit"
	"github.com/sergeybar/ratesentry/internal/telemetry"
)

// EventSink is the narrow surface the orchestrator needs from C6: enqueue
// without blocking, reporting whether the event was accepted.
type EventSink interface {
	Enqueue(event model.RateLimitEvent) bool
}

// APIKeyHasher mirrors policy.APIKeyHasher so the orchestrator can derive
// the same limiter key the resolver used to find the policy.
type APIKeyHasher func(raw string) string

// Orchestrator is C5.
type Orchestrator struct {
	resolver   *policy.Resolver
	engine     *ratelimit.Engine
	sink       EventSink
	hashAPIKey APIKeyHasher
	now        func() time.Time
}

// New wires the orchestrator's four dependencies together.
func New(resolver *policy.Resolver, engine *ratelimit.Engine, sink EventSink, hashAPIKey APIKeyHasher) *Orchestrator {
	return &Orchestrator{resolver: resolver, engine: engine, sink: sink, hashAPIKey: hashAPIKey, now: time.Now}
}

// Check implements the six steps of spec.md §4.5.
func (o *Orchestrator) Check(ctx context.Context, req model.CheckRequest) (model.CheckResponse, error) {
	if req.Identifier == "" {
		return model.CheckResponse{}, fmt.Errorf("orchestrator: identifier is required")
	}

	start := time.Now()

	outcome, err := o.resolver.Resolve(ctx, &req)
	if err != nil {
		// A config-store failure degrades to POLICY_NOT_FOUND, not an error.
		outcome = policy.Outcome{Reason: model.ReasonPolicyNotFound}
	}

	if outcome.Reason == model.ReasonPolicyNotFound {
		// No event: a resolution failure carries no policy to attribute it to.
		telemetry.ChecksTotal.WithLabelValues(string(model.ReasonPolicyNotFound)).Inc()
		return model.CheckResponse{Allowed: false, Reason: model.ReasonPolicyNotFound}, nil
	}
	if outcome.Reason == model.ReasonPolicyDisabled {
		resp := model.CheckResponse{Allowed: false, Reason: model.ReasonPolicyDisabled}
		o.emit(outcome.Policy, req, resp, o.now())
		telemetry.ChecksTotal.WithLabelValues(string(model.ReasonPolicyDisabled)).Inc()
		return resp, nil
	}

	key, idType, err := o.limiterKey(req)
	if err != nil {
		return model.CheckResponse{}, err
	}

	result, engineErr := o.engine.Check(ctx, key, req.Scope, outcome.Policy, o.now(), 1)
	resp := shapeResponse(outcome.Policy, result)
	o.emitByType(outcome.Policy, req, idType, key, resp, o.now())

	telemetry.CheckDuration.WithLabelValues(string(outcome.Policy.Algorithm)).Observe(time.Since(start).Seconds())
	reasonLabel := "ALLOWED"
	if resp.Reason != "" {
		reasonLabel = string(resp.Reason)
	}
	telemetry.ChecksTotal.WithLabelValues(reasonLabel).Inc()

	// engineErr (breaker-open / exhausted-retries) is neither returned nor
	// logged: the fallback result already encodes the verdict.
	_ = engineErr

	return resp, nil
}

func (o *Orchestrator) limiterKey(req model.CheckRequest) (string, model.IdentifierType, error) {
	switch req.Scope {
	case model.ScopeGlobal:
		return "global", model.IdentifierGlobal, nil
	case model.ScopeTenant:
		if req.TenantID == nil || *req.TenantID == "" {
			return "", "", fmt.Errorf("orchestrator: TENANT scope requires tenantId")
		}
		return *req.TenantID, model.IdentifierTenant, nil
	case model.ScopeUser:
		return req.Identifier, model.IdentifierUser, nil
	case model.ScopeAPI:
		if req.APIKey == nil || *req.APIKey == "" {
			return "", "", fmt.Errorf("orchestrator: API scope requires apiKey")
		}
		return o.hashAPIKey(*req.APIKey), model.IdentifierAPIKey, nil
	case model.ScopeIP:
		if req.IPAddress == nil || *req.IPAddress == "" {
			return "", "", fmt.Errorf("orchestrator: IP scope requires ipAddress")
		}
		return *req.IPAddress, model.IdentifierIP, nil
	default:
		return "", "", fmt.Errorf("orchestrator: unknown scope %q", req.Scope)
	}
}

func shapeResponse(p *model.Policy, out ratelimit.Outcome) model.CheckResponse {
	policyID := p.ID.String()
	algorithm := string(p.Algorithm)
	reason := model.DenyReason("")
	if !out.Allowed {
		if out.UsedFallback {
			reason = model.ReasonCircuitBreakerOpen
		} else {
			reason = model.ReasonRateLimitExceeded
		}
	}
	return model.CheckResponse{
		Allowed:           out.Allowed,
		Remaining:         out.Remaining,
		Limit:             out.Limit,
		ResetInSeconds:    out.ResetInSeconds,
		RetryAfterSeconds: out.RetryAfterSeconds,
		PolicyID:          &policyID,
		Algorithm:         &algorithm,
		Reason:            reason,
	}
}

// emit builds a RateLimitEvent for a non-rate-limit verdict (e.g. disabled
// policy) where no limiter key was computed.
func (o *Orchestrator) emit(p *model.Policy, req model.CheckRequest, resp model.CheckResponse, now time.Time) {
	idType := model.IdentifierUser
	switch req.Scope {
	case model.ScopeGlobal:
		idType = model.IdentifierGlobal
	case model.ScopeTenant:
		idType = model.IdentifierTenant
	case model.ScopeAPI:
		idType = model.IdentifierAPIKey
	case model.ScopeIP:
		idType = model.IdentifierIP
	}
	o.emitByType(p, req, idType, req.Identifier, resp, now)
}

func (o *Orchestrator) emitByType(p *model.Policy, req model.CheckRequest, idType model.IdentifierType, identifier string, resp model.CheckResponse, now time.Time) {
	if o.sink == nil || p == nil {
		return
	}
	event := model.RateLimitEvent{
		ID:             uuid.New(),
		PolicyID:       p.ID,
		Identifier:     identifier,
		IdentifierType: idType,
		Allowed:        resp.Allowed,
		Remaining:      resp.Remaining,
		LimitValue:     resp.Limit,
		IPAddress:      req.IPAddress,
		Resource:       req.Resource,
		EventTime:      now,
		PartitionKey:   model.PartitionKeyFor(now),
	}
	o.sink.Enqueue(event)
}
