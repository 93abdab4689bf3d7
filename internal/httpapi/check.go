package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/model"
)

// CheckOrchestrator is the narrow surface httpapi needs from C5.
type CheckOrchestrator interface {
	Check(ctx context.Context, req model.CheckRequest) (model.CheckResponse, error)
}

type checkRequestDTO struct {
	Identifier string  `json:"identifier" validate:"required"`
	Scope      string  `json:"scope" validate:"required,oneof=GLOBAL TENANT USER API IP"`
	PolicyID   *string `json:"policyId,omitempty"`
	TenantID   *string `json:"tenantId,omitempty"`
	APIKey     *string `json:"apiKey,omitempty"`
	IPAddress  *string `json:"ipAddress,omitempty"`
	Resource   *string `json:"resource,omitempty"`
	Method     *string `json:"method,omitempty"`
}

type checkHandler struct {
	orchestrator CheckOrchestrator
	validate     *validator.Validate
	logger       zerolog.Logger
}

func newCheckHandler(orchestrator CheckOrchestrator, logger zerolog.Logger) *checkHandler {
	return &checkHandler{orchestrator: orchestrator, validate: validator.New(), logger: logger}
}

// Check handles POST /v1/check, the boundary contract of spec.md §6.
func (h *checkHandler) Check(w http.ResponseWriter, r *http.Request) {
	var dto checkRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := h.validate.Struct(dto); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	req := model.CheckRequest{
		Identifier: dto.Identifier,
		Scope:      model.Scope(dto.Scope),
		PolicyID:   dto.PolicyID,
		TenantID:   dto.TenantID,
		APIKey:     dto.APIKey,
		IPAddress:  dto.IPAddress,
		Resource:   dto.Resource,
		Method:     dto.Method,
	}

	resp, err := h.orchestrator.Check(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "deadline_exceeded", err.Error())
			return
		}
		h.logger.Error().Err(err).Str("identifier", req.Identifier).Msg("check failed")
		writeError(w, http.StatusBadRequest, "check_failed", err.Error())
		return
	}

	status := http.StatusOK
	if !resp.Allowed {
		status = http.StatusTooManyRequests
		if resp.Reason == model.ReasonPolicyNotFound {
			status = http.StatusNotFound
		}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
