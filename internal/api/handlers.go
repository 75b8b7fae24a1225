package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/mirador-remediate/internal/engine"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/registry"
	"github.com/miradorstack/mirador-remediate/internal/services"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// Handler maps HTTP requests onto the remediation service.
type Handler struct {
	svc    *services.RemediationService
	logger *slog.Logger
}

// NewRouter wires the command surface onto a gorilla/mux router with request
// logging and Prometheus instrumentation.
func NewRouter(svc *services.RemediationService, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: svc, logger: logger}

	router := mux.NewRouter()
	router.Use(requestLogging(logger), instrumentRequests)

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", h.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/trigger", h.triggerAlert).Methods(http.MethodPost)
	v1.HandleFunc("/autopilot", h.setAutopilot).Methods(http.MethodPut)
	v1.HandleFunc("/actions/monitor", h.monitor).Methods(http.MethodPost)
	v1.HandleFunc("/actions/scale", h.scale).Methods(http.MethodPost)
	v1.HandleFunc("/actions/rollback", h.rollback).Methods(http.MethodPost)
	v1.HandleFunc("/approvals", h.listApprovals).Methods(http.MethodGet)
	v1.HandleFunc("/approvals/{id}/approve", h.approve).Methods(http.MethodPost)
	v1.HandleFunc("/incidents", h.listIncidents).Methods(http.MethodGet)
	v1.HandleFunc("/incidents/stats", h.incidentStats).Methods(http.MethodGet)
	v1.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	v1.HandleFunc("/targets", h.registerTarget).Methods(http.MethodPost)
	v1.HandleFunc("/targets", h.listTargets).Methods(http.MethodGet)
	v1.HandleFunc("/targets/{id}", h.getTarget).Methods(http.MethodGet)
	v1.HandleFunc("/targets/{id}/approve", h.approveTarget).Methods(http.MethodPost)
	v1.HandleFunc("/targets/{id}/reject", h.rejectTarget).Methods(http.MethodPost)
	v1.HandleFunc("/targets/{id}/activate", h.activateTarget).Methods(http.MethodPost)

	return router
}

type statusResponse struct {
	Health           string     `json:"health"`
	Replicas         int        `json:"replicas"`
	Demand           float64    `json:"demand"`
	AutopilotEnabled bool       `json:"autopilotEnabled"`
	IncidentLevel    int        `json:"incidentLevel"`
	LastAlertAt      *time.Time `json:"lastAlertAt,omitempty"`
}

type actionResultResponse struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	Explanation      string          `json:"explanation,omitempty"`
	ApprovalRequired bool            `json:"approvalRequired,omitempty"`
	ApprovalID       string          `json:"approvalId,omitempty"`
	Report           *reportResponse `json:"report,omitempty"`
}

type reportResponse struct {
	Status      string  `json:"status"`
	Replicas    int     `json:"replicas"`
	CPULoad     float64 `json:"cpuLoad"`
	MemoryUsage float64 `json:"memoryUsage"`
	Utilization float64 `json:"utilization"`
	Source      string  `json:"source"`
	Service     string  `json:"service,omitempty"`
}

type incidentResponse struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Actions     []string   `json:"actions"`
	MTTRSeconds float64    `json:"mttrSeconds"`
}

type approvalResponse struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Replicas  float64   `json:"replicas,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type targetResponse struct {
	ID          string    `json:"id"`
	ServiceName string    `json:"serviceName"`
	MonitorURL  string    `json:"monitorUrl"`
	ScaleURL    string    `json:"scaleUrl"`
	RollbackURL string    `json:"rollbackUrl"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type eventResponse struct {
	Time     time.Time      `json:"time"`
	Category string         `json:"category"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Status()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := statusResponse{
		Health:           string(state.Health),
		Replicas:         state.Replicas,
		Demand:           state.Demand,
		AutopilotEnabled: state.AutopilotEnabled,
		IncidentLevel:    state.IncidentLevel,
	}
	if !state.LastAlertAt.IsZero() {
		at := state.LastAlertAt
		resp.LastAlertAt = &at
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) triggerAlert(w http.ResponseWriter, r *http.Request) {
	escalation, err := h.svc.TriggerAlert()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"level":  escalation.Level,
		"demand": escalation.Demand,
	})
}

func (h *Handler) setAutopilot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, "body must carry an enabled flag")
		return
	}
	enabled, err := h.svc.SetAutopilot(*req.Enabled)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"enabled": enabled})
}

func (h *Handler) monitor(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Monitor(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeActionResult(w, result)
}

func (h *Handler) scale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Replicas *float64 `json:"replicas"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Replicas == nil {
		h.writeError(w, http.StatusBadRequest, "body must carry a replicas number")
		return
	}
	result, err := h.svc.Scale(r.Context(), *req.Replicas)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeActionResult(w, result)
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Rollback(r.Context())
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.writeActionResult(w, result)
}

func (h *Handler) listApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.svc.PendingApprovals()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := make([]approvalResponse, 0, len(approvals))
	for _, approval := range approvals {
		item := approvalResponse{
			ID:        approval.ID,
			Action:    approval.Action.Name(),
			CreatedAt: approval.CreatedAt,
		}
		if scale, ok := approval.Action.(models.ScaleAction); ok {
			item.Replicas = scale.Replicas
		}
		resp = append(resp, item)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"approvals": resp})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.svc.Approve(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrApprovalNotFound) {
			h.writeError(w, http.StatusNotFound, "pending approval not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeActionResult(w, result)
}

func (h *Handler) listIncidents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	incidents, err := h.svc.Incidents(since)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := make([]incidentResponse, 0, len(incidents))
	for _, incident := range incidents {
		resp = append(resp, toIncidentResponse(incident))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"incidents": resp})
}

func (h *Handler) incidentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.IncidentStats()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := map[string]any{
		"total":           stats.Total,
		"meanMttrSeconds": stats.MeanMTTRSeconds,
		"maxMttrSeconds":  stats.MaxMTTRSeconds,
	}
	if !stats.LastEndedAt.IsZero() {
		resp["lastEndedAt"] = stats.LastEndedAt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	events, err := h.svc.Events(limit)
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	resp := make([]eventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, eventResponse{
			Time:     event.Time,
			Category: event.Category,
			Severity: string(event.Severity),
			Message:  event.Message,
			Details:  event.Details,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": resp})
}

func (h *Handler) registerTarget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServiceName string `json:"serviceName"`
		MonitorURL  string `json:"monitorUrl"`
		ScaleURL    string `json:"scaleUrl"`
		RollbackURL string `json:"rollbackUrl"`
		APIKey      string `json:"apiKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	target, err := h.svc.RegisterTarget(r.Context(), registry.RegisterInput{
		ServiceName: req.ServiceName,
		MonitorURL:  req.MonitorURL,
		ScaleURL:    req.ScaleURL,
		RollbackURL: req.RollbackURL,
		APIKey:      req.APIKey,
	})
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateService) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeJSON(w, http.StatusCreated, toTargetResponse(target))
}

func (h *Handler) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.svc.ListTargets(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := make([]targetResponse, 0, len(targets))
	for _, target := range targets {
		resp = append(resp, toTargetResponse(target))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"targets": resp})
}

func (h *Handler) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.GetTarget(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeTargetError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTargetResponse(target))
}

func (h *Handler) approveTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.ApproveTarget(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeTargetError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTargetResponse(target))
}

func (h *Handler) rejectTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.RejectTarget(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeTargetError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTargetResponse(target))
}

func (h *Handler) activateTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.svc.ActivateTarget(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeTargetError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTargetResponse(target))
}

// writeActionResult maps an executor outcome onto a status code: deferred
// actions are 202, policy denials 422, delegate failures 502.
func (h *Handler) writeActionResult(w http.ResponseWriter, result models.ActionResult) {
	resp := actionResultResponse{
		Success:          result.Success,
		Message:          result.Message,
		Explanation:      result.Explanation,
		ApprovalRequired: result.ApprovalRequired,
		ApprovalID:       result.ApprovalID,
	}
	if result.Report != nil {
		resp.Report = &reportResponse{
			Status:      string(result.Report.Status),
			Replicas:    result.Report.Replicas,
			CPULoad:     result.Report.CPULoad,
			MemoryUsage: result.Report.MemoryUsage,
			Utilization: result.Report.Utilization,
			Source:      string(result.Report.Source),
			Service:     result.Report.Service,
		}
	}

	status := http.StatusOK
	switch {
	case result.ApprovalRequired:
		status = http.StatusAccepted
	case result.Denied:
		status = http.StatusUnprocessableEntity
	case !result.Success:
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeTargetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "target not found")
	case errors.Is(err, registry.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("encode response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func toIncidentResponse(incident models.Incident) incidentResponse {
	resp := incidentResponse{
		ID:          incident.ID,
		StartedAt:   incident.StartedAt,
		Actions:     incident.Actions,
		MTTRSeconds: incident.MTTRSeconds,
	}
	if resp.Actions == nil {
		resp.Actions = []string{}
	}
	if !incident.EndedAt.IsZero() {
		ended := incident.EndedAt
		resp.EndedAt = &ended
	}
	return resp
}

func toTargetResponse(target models.RemoteTarget) targetResponse {
	return targetResponse{
		ID:          target.ID,
		ServiceName: target.ServiceName,
		MonitorURL:  target.MonitorURL,
		ScaleURL:    target.ScaleURL,
		RollbackURL: target.RollbackURL,
		Status:      string(target.Status),
		CreatedAt:   target.CreatedAt,
		UpdatedAt:   target.UpdatedAt,
	}
}
