package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/model"
	"github.com/sergeybar/ratesentry/internal/policy"
	"github.com/sergeybar/ratesentry/internal/store"
)

// AlertEvaluator is the narrow surface httpapi needs from C8's test-alert
// admin operation.
type AlertEvaluator interface {
	EvaluateRule(ctx context.Context, rule model.AlertRule) error
}

// adminHandlers bundles every admin CRUD surface; cmd/ratesentryd wires it
// with the concrete pgx-backed stores.
type adminHandlers struct {
	policies     *store.PolicyStore
	tenants      *store.TenantStore
	apiKeys      *store.ApiKeyStore
	ipRules      *store.IpRuleStore
	userPolicies *store.UserPolicyStore
	policyRules  *store.PolicyRuleStore
	alertRules   *store.AlertRuleStore
	alerts       AlertEvaluator
	invalidate   policy.CacheInvalidator

	validate *validator.Validate
	logger   zerolog.Logger
}

func newAdminHandlers(
	policies *store.PolicyStore,
	tenants *store.TenantStore,
	apiKeys *store.ApiKeyStore,
	ipRules *store.IpRuleStore,
	userPolicies *store.UserPolicyStore,
	policyRules *store.PolicyRuleStore,
	alertRules *store.AlertRuleStore,
	alerts AlertEvaluator,
	invalidate policy.CacheInvalidator,
	logger zerolog.Logger,
) *adminHandlers {
	return &adminHandlers{
		policies: policies, tenants: tenants, apiKeys: apiKeys, ipRules: ipRules,
		userPolicies: userPolicies, policyRules: policyRules, alertRules: alertRules,
		alerts: alerts, invalidate: invalidate,
		validate: validator.New(), logger: logger,
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return uuid.UUID{}, false
	}
	return id, true
}

func parseOptionalTenantQuery(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("tenantId")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// --- Policies ---

type policyDTO struct {
	Name          string   `json:"name" validate:"required"`
	TenantID      *string  `json:"tenantId,omitempty"`
	Scope         string   `json:"scope" validate:"required,oneof=GLOBAL TENANT USER API IP"`
	Algorithm     string   `json:"algorithm" validate:"required,oneof=TOKEN_BUCKET FIXED_WINDOW SLIDING_LOG"`
	MaxRequests   int      `json:"maxRequests" validate:"required,gt=0"`
	WindowSeconds int      `json:"windowSeconds" validate:"required,gt=0"`
	BurstCapacity *int     `json:"burstCapacity,omitempty"`
	RefillRate    *float64 `json:"refillRate,omitempty"`
	FailMode      string   `json:"failMode" validate:"required,oneof=FAIL_OPEN FAIL_CLOSED"`
	Enabled       bool     `json:"enabled"`
	IsDefault     bool     `json:"isDefault"`
}

func (h *adminHandlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseOptionalTenantQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	list, err := h.policies.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	p, err := h.policies.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get_failed", err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "not_found", "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *adminHandlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var dto policyDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	p := &model.Policy{
		Name: dto.Name, Scope: model.Scope(dto.Scope), Algorithm: model.Algorithm(dto.Algorithm),
		MaxRequests: dto.MaxRequests, WindowSeconds: dto.WindowSeconds,
		BurstCapacity: dto.BurstCapacity, RefillRate: dto.RefillRate,
		FailMode: model.FailMode(dto.FailMode), Enabled: dto.Enabled, IsDefault: dto.IsDefault,
	}
	if dto.TenantID != nil {
		tid, err := uuid.Parse(*dto.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
			return
		}
		p.TenantID = &tid
	}
	created, err := h.policies.Create(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.policies.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	h.invalidate.InvalidatePolicy(id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Tenants ---

type tenantDTO struct {
	Name    string `json:"name" validate:"required"`
	Tier    string `json:"tier" validate:"required"`
	Enabled bool   `json:"enabled"`
}

func (h *adminHandlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := h.tenants.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var dto tenantDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	created, err := h.tenants.Create(r.Context(), &model.Tenant{Name: dto.Name, Tier: dto.Tier, Enabled: dto.Enabled})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.tenants.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- API keys ---

type apiKeyDTO struct {
	KeyHash   string  `json:"keyHash" validate:"required"`
	KeyPrefix string  `json:"keyPrefix" validate:"required"`
	TenantID  string  `json:"tenantId" validate:"required"`
	PolicyID  *string `json:"policyId,omitempty"`
	Enabled   bool    `json:"enabled"`
}

func (h *adminHandlers) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(r.URL.Query().Get("tenantId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	list, err := h.apiKeys.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var dto apiKeyDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	tenantID, err := uuid.Parse(dto.TenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	k := &model.ApiKey{KeyHash: dto.KeyHash, KeyPrefix: dto.KeyPrefix, TenantID: tenantID, Enabled: dto.Enabled}
	if dto.PolicyID != nil {
		pid, err := uuid.Parse(*dto.PolicyID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
			return
		}
		k.PolicyID = &pid
	}
	created, err := h.apiKeys.Create(r.Context(), k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.apiKeys.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- IP rules ---

type ipRuleDTO struct {
	TenantID  *string `json:"tenantId,omitempty"`
	IPAddress *string `json:"ipAddress,omitempty"`
	IPCIDR    *string `json:"ipCidr,omitempty"`
	PolicyID  string  `json:"policyId" validate:"required"`
	RuleType  string  `json:"ruleType" validate:"required,oneof=RATE_LIMIT BLACKLIST WHITELIST"`
	Enabled   bool    `json:"enabled"`
}

func (h *adminHandlers) ListIPRules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseOptionalTenantQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	list, err := h.ipRules.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) CreateIPRule(w http.ResponseWriter, r *http.Request) {
	var dto ipRuleDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	policyID, err := uuid.Parse(dto.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
		return
	}
	rule := &model.IpRule{
		IPAddress: dto.IPAddress, IPCIDR: dto.IPCIDR, PolicyID: policyID,
		RuleType: model.IpRuleType(dto.RuleType), Enabled: dto.Enabled,
	}
	if dto.TenantID != nil {
		tid, err := uuid.Parse(*dto.TenantID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
			return
		}
		rule.TenantID = &tid
	}
	created, err := h.ipRules.Create(r.Context(), rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeleteIPRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.ipRules.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- User policies ---

type userPolicyDTO struct {
	UserID   string `json:"userId" validate:"required"`
	TenantID string `json:"tenantId" validate:"required"`
	PolicyID string `json:"policyId" validate:"required"`
	Enabled  bool   `json:"enabled"`
}

func (h *adminHandlers) CreateUserPolicy(w http.ResponseWriter, r *http.Request) {
	var dto userPolicyDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	tenantID, err := uuid.Parse(dto.TenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tenant_id", err.Error())
		return
	}
	policyID, err := uuid.Parse(dto.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
		return
	}
	created, err := h.userPolicies.Create(r.Context(), &model.UserPolicy{
		UserID: dto.UserID, TenantID: tenantID, PolicyID: policyID, Enabled: dto.Enabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	h.invalidate.InvalidateUserPolicy(dto.UserID, tenantID)
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeleteUserPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.userPolicies.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Policy rules ---

type policyRuleDTO struct {
	PolicyID        string   `json:"policyId" validate:"required"`
	ResourcePattern string   `json:"resourcePattern" validate:"required"`
	HTTPMethods     []string `json:"httpMethods,omitempty"`
	Priority        int      `json:"priority"`
	Enabled         bool     `json:"enabled"`
}

func (h *adminHandlers) ListPolicyRules(w http.ResponseWriter, r *http.Request) {
	policyID, err := uuid.Parse(r.URL.Query().Get("policyId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
		return
	}
	list, err := h.policyRules.List(r.Context(), policyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) CreatePolicyRule(w http.ResponseWriter, r *http.Request) {
	var dto policyRuleDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	policyID, err := uuid.Parse(dto.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
		return
	}
	created, err := h.policyRules.Create(r.Context(), &model.PolicyRule{
		PolicyID: policyID, ResourcePattern: dto.ResourcePattern, HTTPMethods: dto.HTTPMethods,
		Priority: dto.Priority, Enabled: dto.Enabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	// PolicyRules are never cached — EnabledRulesOrderedByPriority is read
	// fresh on every URL-pattern resolution step, so there's nothing to evict.
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeletePolicyRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.policyRules.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Alert rules ---

type alertRuleDTO struct {
	Name                string  `json:"name" validate:"required"`
	PolicyID            string  `json:"policyId" validate:"required"`
	ThresholdPercentage float64 `json:"thresholdPercentage" validate:"gte=0,lte=100"`
	WindowSeconds       int     `json:"windowSeconds" validate:"required,gt=0"`
	CooldownSeconds     int     `json:"cooldownSeconds" validate:"gte=0"`
	Enabled             bool    `json:"enabled"`
}

func (h *adminHandlers) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.alertRules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *adminHandlers) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	var dto alertRuleDTO
	if !decodeAndValidate(w, r, h.validate, &dto) {
		return
	}
	policyID, err := uuid.Parse(dto.PolicyID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_policy_id", err.Error())
		return
	}
	created, err := h.alertRules.Create(r.Context(), &model.AlertRule{
		Name: dto.Name, PolicyID: policyID, ThresholdPercentage: dto.ThresholdPercentage,
		WindowSeconds: dto.WindowSeconds, CooldownSeconds: dto.CooldownSeconds, Enabled: dto.Enabled,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *adminHandlers) DeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.alertRules.Delete(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestAlertRule runs a rule once, ignoring threshold and cooldown — the
// admin surface's testAlert(ruleId) operation.
func (h *adminHandlers) TestAlertRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUIDParam(w, r, "id")
	if !ok {
		return
	}
	rules, err := h.alertRules.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	var target *model.AlertRule
	for i := range rules {
		if rules[i].ID == id {
			target = &rules[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "not_found", "alert rule not found")
		return
	}
	if err := h.alerts.EvaluateRule(r.Context(), *target); err != nil {
		writeError(w, http.StatusInternalServerError, "test_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "evaluated"})
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dto any) bool {
	if err := json.NewDecoder(r.Body).Decode(dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	if err := v.Struct(dto); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return false
	}
	return true
}
