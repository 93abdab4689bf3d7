// Package httpapi exposes the Check boundary contract (spec.md §6) and the
// admin CRUD surface over a chi router, grounded on the teacher's gateway
// router: CORS -> security headers -> request ID -> recoverer -> logger ->
// body-limit, then per-route auth.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/policy"
	"github.com/sergeybar/ratesentry/internal/store"
)

// Deps bundles everything the router needs to mount the Check and admin
// surfaces.
type Deps struct {
	Orchestrator CheckOrchestrator
	Alerts       AlertEvaluator
	Invalidate   policy.CacheInvalidator

	Policies     *store.PolicyStore
	Tenants      *store.TenantStore
	APIKeys      *store.ApiKeyStore
	IPRules      *store.IpRuleStore
	UserPolicies *store.UserPolicyStore
	PolicyRules  *store.PolicyRuleStore
	AlertRules   *store.AlertRuleStore

	MaxBodyBytes int64
	AdminAPIKey  string
	CORSOrigins  []string
}

// NewRouter wires the full middleware chain and every route.
func NewRouter(deps Deps, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(corsMiddleware(deps.CORSOrigins))
	r.Use(securityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(maxBodySize(deps.MaxBodyBytes))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "ratesentry"})
	})
	r.Handle("/metrics", promhttp.Handler())

	check := newCheckHandler(deps.Orchestrator, logger)
	r.Post("/v1/check", check.Check)

	admin := newAdminHandlers(
		deps.Policies, deps.Tenants, deps.APIKeys, deps.IPRules,
		deps.UserPolicies, deps.PolicyRules, deps.AlertRules, deps.Alerts, deps.Invalidate, logger,
	)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(adminAuth(deps.AdminAPIKey))

		r.Get("/policies", admin.ListPolicies)
		r.Post("/policies", admin.CreatePolicy)
		r.Get("/policies/{id}", admin.GetPolicy)
		r.Delete("/policies/{id}", admin.DeletePolicy)

		r.Get("/tenants", admin.ListTenants)
		r.Post("/tenants", admin.CreateTenant)
		r.Delete("/tenants/{id}", admin.DeleteTenant)

		r.Get("/api-keys", admin.ListAPIKeys)
		r.Post("/api-keys", admin.CreateAPIKey)
		r.Delete("/api-keys/{id}", admin.DeleteAPIKey)

		r.Get("/ip-rules", admin.ListIPRules)
		r.Post("/ip-rules", admin.CreateIPRule)
		r.Delete("/ip-rules/{id}", admin.DeleteIPRule)

		r.Post("/user-policies", admin.CreateUserPolicy)
		r.Delete("/user-policies/{id}", admin.DeleteUserPolicy)

		r.Get("/policy-rules", admin.ListPolicyRules)
		r.Post("/policy-rules", admin.CreatePolicyRule)
		r.Delete("/policy-rules/{id}", admin.DeletePolicyRule)

		r.Get("/alert-rules", admin.ListAlertRules)
		r.Post("/alert-rules", admin.CreateAlertRule)
		r.Delete("/alert-rules/{id}", admin.DeleteAlertRule)
		r.Post("/alert-rules/{id}/test", admin.TestAlertRule)
	})

	return r
}
