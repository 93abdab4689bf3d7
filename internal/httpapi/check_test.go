package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sergeybar/ratesentry/internal/model"
)

type stubOrchestrator struct {
	resp model.CheckResponse
	err  error
}

func (s *stubOrchestrator) Check(ctx context.Context, req model.CheckRequest) (model.CheckResponse, error) {
	return s.resp, s.err
}

func TestCheckHandler_AllowedReturns200(t *testing.T) {
	h := newCheckHandler(&stubOrchestrator{resp: model.CheckResponse{Allowed: true, Remaining: 9, Limit: 10}}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{"identifier": "user-1", "scope": "USER"})
	req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp model.CheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Allowed || resp.Remaining != 9 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCheckHandler_DeniedReturns429(t *testing.T) {
	h := newCheckHandler(&stubOrchestrator{resp: model.CheckResponse{Allowed: false, Reason: model.ReasonRateLimitExceeded}}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{"identifier": "user-1", "scope": "USER"})
	req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestCheckHandler_PolicyNotFoundReturns404(t *testing.T) {
	h := newCheckHandler(&stubOrchestrator{resp: model.CheckResponse{Allowed: false, Reason: model.ReasonPolicyNotFound}}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{"identifier": "user-1", "scope": "USER"})
	req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCheckHandler_MissingScopeFailsValidation(t *testing.T) {
	h := newCheckHandler(&stubOrchestrator{}, zerolog.Nop())

	body, _ := json.Marshal(map[string]any{"identifier": "user-1"})
	req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Check(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
