package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/engine"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/registry"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// TargetRegistry defines the registry operations the transport layer needs.
type TargetRegistry interface {
	Register(ctx context.Context, input registry.RegisterInput) (models.RemoteTarget, error)
	Get(ctx context.Context, id string) (models.RemoteTarget, error)
	List(ctx context.Context) ([]models.RemoteTarget, error)
	Approve(ctx context.Context, id string) (models.RemoteTarget, error)
	Reject(ctx context.Context, id string) (models.RemoteTarget, error)
	Activate(ctx context.Context, id string) (models.RemoteTarget, error)
}

// RemediationService is the facade the HTTP layer talks to. It wraps the
// executor with per-action metrics and latency tracking, and exposes the
// registry and the audit log alongside.
type RemediationService struct {
	logger    *slog.Logger
	exec      *engine.Executor
	targets   TargetRegistry
	events    *audit.MemoryLog
	latencies *utils.LatencyTracker
}

// NewRemediationService constructs the service facade.
func NewRemediationService(logger *slog.Logger, exec *engine.Executor, targets TargetRegistry, events *audit.MemoryLog) *RemediationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemediationService{
		logger:    logger,
		exec:      exec,
		targets:   targets,
		events:    events,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Status returns a snapshot of the system state.
func (s *RemediationService) Status() (models.SystemState, error) {
	if s.exec == nil {
		return models.SystemState{}, fmt.Errorf("executor not configured")
	}
	return s.exec.Status(), nil
}

// TriggerAlert simulates a demand spike and returns the escalation.
func (s *RemediationService) TriggerAlert() (models.AlertEscalation, error) {
	if s.exec == nil {
		return models.AlertEscalation{}, fmt.Errorf("executor not configured")
	}
	escalation := s.exec.TriggerAlert()
	s.logger.Info("alert triggered", slog.Int("level", escalation.Level), slog.Float64("demand", escalation.Demand))
	return escalation, nil
}

// SetAutopilot toggles automatic remediation.
func (s *RemediationService) SetAutopilot(enabled bool) (bool, error) {
	if s.exec == nil {
		return false, fmt.Errorf("executor not configured")
	}
	return s.exec.SetAutopilot(enabled), nil
}

// Monitor reads the workload status through the executor.
func (s *RemediationService) Monitor(ctx context.Context) (models.ActionResult, error) {
	if s.exec == nil {
		return models.ActionResult{}, fmt.Errorf("executor not configured")
	}
	start := time.Now()
	result := s.exec.Monitor(ctx)
	s.observe("monitor", start, result.Success)
	return result, nil
}

// Scale requests a replica change through the policy gate.
func (s *RemediationService) Scale(ctx context.Context, replicas float64) (models.ActionResult, error) {
	if s.exec == nil {
		return models.ActionResult{}, fmt.Errorf("executor not configured")
	}
	start := time.Now()
	result := s.exec.Scale(ctx, replicas, false)
	s.observe("scale", start, result.Success)
	return result, nil
}

// Rollback reverts the workload to its baseline.
func (s *RemediationService) Rollback(ctx context.Context) (models.ActionResult, error) {
	if s.exec == nil {
		return models.ActionResult{}, fmt.Errorf("executor not configured")
	}
	start := time.Now()
	result := s.exec.Rollback(ctx)
	s.observe("rollback", start, result.Success)
	return result, nil
}

// PendingApprovals lists deferred actions awaiting sign-off.
func (s *RemediationService) PendingApprovals() ([]models.PendingApproval, error) {
	if s.exec == nil {
		return nil, fmt.Errorf("executor not configured")
	}
	return s.exec.Approvals(), nil
}

// Approve executes a deferred action with the policy gate bypassed.
func (s *RemediationService) Approve(ctx context.Context, id string) (models.ActionResult, error) {
	if s.exec == nil {
		return models.ActionResult{}, fmt.Errorf("executor not configured")
	}
	start := time.Now()
	result, err := s.exec.Approve(ctx, id)
	if err != nil {
		return models.ActionResult{}, err
	}
	s.observe("approve", start, result.Success)
	return result, nil
}

// Incidents returns the closed history, optionally filtered to incidents
// that started at or after since.
func (s *RemediationService) Incidents(since time.Time) ([]models.Incident, error) {
	if s.exec == nil {
		return nil, fmt.Errorf("executor not configured")
	}
	history := s.exec.History()
	if since.IsZero() {
		return history, nil
	}
	filtered := make([]models.Incident, 0, len(history))
	for _, incident := range history {
		if !incident.StartedAt.Before(since) {
			filtered = append(filtered, incident)
		}
	}
	return filtered, nil
}

// CurrentIncident returns the open incident, if any.
func (s *RemediationService) CurrentIncident() (models.Incident, bool, error) {
	if s.exec == nil {
		return models.Incident{}, false, fmt.Errorf("executor not configured")
	}
	incident, open := s.exec.CurrentIncident()
	return incident, open, nil
}

// IncidentStats aggregates MTTR across the closed history.
func (s *RemediationService) IncidentStats() (models.IncidentStats, error) {
	if s.exec == nil {
		return models.IncidentStats{}, fmt.Errorf("executor not configured")
	}
	return s.exec.IncidentStats(), nil
}

// Events returns recent audit records, newest first.
func (s *RemediationService) Events(limit int) ([]audit.Event, error) {
	if s.events == nil {
		return nil, fmt.Errorf("audit log not configured")
	}
	return s.events.Recent(limit), nil
}

// ReloadPolicy swaps the governance pack on the executor.
func (s *RemediationService) ReloadPolicy(pack engine.PolicyPack) error {
	if s.exec == nil {
		return fmt.Errorf("executor not configured")
	}
	s.exec.SetPolicy(pack)
	return nil
}

// RegisterTarget stores a new remote target in the pending state.
func (s *RemediationService) RegisterTarget(ctx context.Context, input registry.RegisterInput) (models.RemoteTarget, error) {
	if s.targets == nil {
		return models.RemoteTarget{}, fmt.Errorf("target registry not configured")
	}
	return s.targets.Register(ctx, input)
}

// GetTarget returns one registered target.
func (s *RemediationService) GetTarget(ctx context.Context, id string) (models.RemoteTarget, error) {
	if s.targets == nil {
		return models.RemoteTarget{}, fmt.Errorf("target registry not configured")
	}
	return s.targets.Get(ctx, id)
}

// ListTargets returns all registered targets.
func (s *RemediationService) ListTargets(ctx context.Context) ([]models.RemoteTarget, error) {
	if s.targets == nil {
		return nil, fmt.Errorf("target registry not configured")
	}
	return s.targets.List(ctx)
}

// ApproveTarget vets a pending target.
func (s *RemediationService) ApproveTarget(ctx context.Context, id string) (models.RemoteTarget, error) {
	if s.targets == nil {
		return models.RemoteTarget{}, fmt.Errorf("target registry not configured")
	}
	return s.targets.Approve(ctx, id)
}

// RejectTarget retires a target.
func (s *RemediationService) RejectTarget(ctx context.Context, id string) (models.RemoteTarget, error) {
	if s.targets == nil {
		return models.RemoteTarget{}, fmt.Errorf("target registry not configured")
	}
	return s.targets.Reject(ctx, id)
}

// ActivateTarget makes a target the proxy destination.
func (s *RemediationService) ActivateTarget(ctx context.Context, id string) (models.RemoteTarget, error) {
	if s.targets == nil {
		return models.RemoteTarget{}, fmt.Errorf("target registry not configured")
	}
	return s.targets.Activate(ctx, id)
}

func (s *RemediationService) observe(action string, start time.Time, success bool) {
	duration := time.Since(start)
	outcome := metrics.OutcomeSuccess
	if !success {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveAction(action, duration, outcome)
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("action latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}
