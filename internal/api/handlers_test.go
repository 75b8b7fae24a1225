package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/cache"
	"github.com/miradorstack/mirador-remediate/internal/engine"
	"github.com/miradorstack/mirador-remediate/internal/registry"
	"github.com/miradorstack/mirador-remediate/internal/services"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	trail := audit.NewMemoryLog(200)
	tracker := engine.NewIncidentTracker()
	classifier := engine.NewClassifier(90, tracker, trail, logger)

	reg, err := registry.Open("sqlite3", ":memory:", cache.NewMemoryProvider(), time.Second, trail, logger)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	exec := engine.NewExecutor(
		engine.ExecutorConfig{
			ServiceName:      "checkout",
			BaselineReplicas: 3,
			InitialDemand:    100,
			DemandBase:       500,
			DemandStep:       500,
			AutopilotDelay:   time.Second,
		},
		engine.CapacityModel{PerReplica: 200},
		classifier,
		tracker,
		engine.NewPolicyEngine(engine.DefaultPolicyPack()),
		engine.AutopilotPlanner{Headroom: 1.2, PerReplica: 200},
		nil,
		nil,
		trail,
		logger,
	)

	svc := services.NewRemediationService(logger, exec, reg, trail)
	return NewRouter(svc, logger)
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp struct {
		Health   string `json:"health"`
		Replicas int    `json:"replicas"`
	}
	decode(t, rec, &resp)
	if resp.Health != "HEALTHY" || resp.Replicas != 3 {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestTriggerAlertFlow(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/alerts/trigger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp struct {
		Level  int     `json:"level"`
		Demand float64 `json:"demand"`
	}
	decode(t, rec, &resp)
	if resp.Level != 1 || resp.Demand != 1000 {
		t.Fatalf("unexpected escalation: %+v", resp)
	}

	status := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	var state struct {
		Health string `json:"health"`
	}
	decode(t, status, &state)
	if state.Health != "CRITICAL" {
		t.Fatalf("expected CRITICAL after trigger, got %q", state.Health)
	}
}

func TestScaleValidation(t *testing.T) {
	router := newTestRouter(t)

	if rec := doJSON(t, router, http.MethodPost, "/api/v1/actions/scale", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing replicas should be 400, got %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions/scale", map[string]any{"replicas": 0})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("policy denial should be 422, got %d", rec.Code)
	}
	var resp struct {
		Message string `json:"message"`
	}
	decode(t, rec, &resp)
	if resp.Message != "cannot scale to zero replicas" {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestScaleDeferAndApprove(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions/scale", map[string]any{"replicas": 15})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("deferred scale should be 202, got %d", rec.Code)
	}
	var deferred struct {
		ApprovalRequired bool   `json:"approvalRequired"`
		ApprovalID       string `json:"approvalId"`
	}
	decode(t, rec, &deferred)
	if !deferred.ApprovalRequired || deferred.ApprovalID == "" {
		t.Fatalf("unexpected deferral body: %+v", deferred)
	}

	list := doJSON(t, router, http.MethodGet, "/api/v1/approvals", nil)
	var approvals struct {
		Approvals []struct {
			ID       string  `json:"id"`
			Replicas float64 `json:"replicas"`
		} `json:"approvals"`
	}
	decode(t, list, &approvals)
	if len(approvals.Approvals) != 1 || approvals.Approvals[0].Replicas != 15 {
		t.Fatalf("unexpected approvals: %+v", approvals)
	}

	approve := doJSON(t, router, http.MethodPost, "/api/v1/approvals/"+deferred.ApprovalID+"/approve", nil)
	if approve.Code != http.StatusOK {
		t.Fatalf("approve should be 200, got %d", approve.Code)
	}

	status := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	var state struct {
		Replicas int `json:"replicas"`
	}
	decode(t, status, &state)
	if state.Replicas != 15 {
		t.Fatalf("expected 15 replicas after approval, got %d", state.Replicas)
	}
}

func TestApproveUnknownID(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/v1/approvals/unknown/approve", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown approval should be 404, got %d", rec.Code)
	}
}

func TestRollback(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/actions/scale", map[string]any{"replicas": 8})
	rec := doJSON(t, router, http.MethodPost, "/api/v1/actions/rollback", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rollback should be 200, got %d", rec.Code)
	}

	status := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	var state struct {
		Replicas int `json:"replicas"`
	}
	decode(t, status, &state)
	if state.Replicas != 3 {
		t.Fatalf("expected baseline replicas, got %d", state.Replicas)
	}
}

func TestAutopilotToggle(t *testing.T) {
	router := newTestRouter(t)

	if rec := doJSON(t, router, http.MethodPut, "/api/v1/autopilot", map[string]any{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing enabled flag should be 400, got %d", rec.Code)
	}
	rec := doJSON(t, router, http.MethodPut, "/api/v1/autopilot", map[string]any{"enabled": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	decode(t, rec, &resp)
	if !resp.Enabled {
		t.Fatalf("autopilot should be enabled")
	}
}

func TestIncidentLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/alerts/trigger", nil)
	doJSON(t, router, http.MethodPost, "/api/v1/actions/scale", map[string]any{"replicas": 10})
	doJSON(t, router, http.MethodPost, "/api/v1/actions/monitor", nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/incidents", nil)
	var resp struct {
		Incidents []struct {
			ID      string   `json:"id"`
			Actions []string `json:"actions"`
		} `json:"incidents"`
	}
	decode(t, rec, &resp)
	if len(resp.Incidents) != 1 {
		t.Fatalf("expected one closed incident, got %d", len(resp.Incidents))
	}
	if len(resp.Incidents[0].Actions) == 0 {
		t.Fatalf("incident should record the scale action")
	}

	if bad := doJSON(t, router, http.MethodGet, "/api/v1/incidents?since=notatime", nil); bad.Code != http.StatusBadRequest {
		t.Fatalf("malformed since should be 400, got %d", bad.Code)
	}

	stats := doJSON(t, router, http.MethodGet, "/api/v1/incidents/stats", nil)
	var statsResp struct {
		Total int `json:"total"`
	}
	decode(t, stats, &statsResp)
	if statsResp.Total != 1 {
		t.Fatalf("expected one incident in stats, got %d", statsResp.Total)
	}
}

func TestEventsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	doJSON(t, router, http.MethodPost, "/api/v1/alerts/trigger", nil)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/events?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var resp struct {
		Events []eventResponse `json:"events"`
	}
	decode(t, rec, &resp)
	if len(resp.Events) == 0 {
		t.Fatalf("expected events after a trigger")
	}

	if bad := doJSON(t, router, http.MethodGet, "/api/v1/events?limit=-1", nil); bad.Code != http.StatusBadRequest {
		t.Fatalf("negative limit should be 400, got %d", bad.Code)
	}
}

func TestTargetRegistryOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	payload := map[string]any{
		"serviceName": "payments",
		"monitorUrl":  "https://payments.example.com/monitor",
		"scaleUrl":    "https://payments.example.com/scale",
		"rollbackUrl": "https://payments.example.com/rollback",
		"apiKey":      "token",
	}
	rec := doJSON(t, router, http.MethodPost, "/api/v1/targets", payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register should be 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var target targetResponse
	decode(t, rec, &target)
	if target.Status != "pending" {
		t.Fatalf("expected pending target, got %q", target.Status)
	}

	if dup := doJSON(t, router, http.MethodPost, "/api/v1/targets", payload); dup.Code != http.StatusConflict {
		t.Fatalf("duplicate service should be 409, got %d", dup.Code)
	}

	// Activating a pending target is an invalid transition.
	if conflict := doJSON(t, router, http.MethodPost, "/api/v1/targets/"+target.ID+"/activate", nil); conflict.Code != http.StatusConflict {
		t.Fatalf("activating pending target should be 409, got %d", conflict.Code)
	}

	if rec := doJSON(t, router, http.MethodPost, "/api/v1/targets/"+target.ID+"/approve", nil); rec.Code != http.StatusOK {
		t.Fatalf("approve should be 200, got %d", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodPost, "/api/v1/targets/"+target.ID+"/activate", nil); rec.Code != http.StatusOK {
		t.Fatalf("activate should be 200, got %d", rec.Code)
	}

	if missing := doJSON(t, router, http.MethodGet, "/api/v1/targets/unknown", nil); missing.Code != http.StatusNotFound {
		t.Fatalf("unknown target should be 404, got %d", missing.Code)
	}

	list := doJSON(t, router, http.MethodGet, "/api/v1/targets", nil)
	var listResp struct {
		Targets []targetResponse `json:"targets"`
	}
	decode(t, list, &listResp)
	if len(listResp.Targets) != 1 || listResp.Targets[0].Status != "active" {
		t.Fatalf("unexpected target list: %+v", listResp)
	}
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
