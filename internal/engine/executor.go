package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// ErrApprovalNotFound signals an unknown or already consumed approval id.
var ErrApprovalNotFound = errors.New("pending approval not found")

// TargetDirectory supplies the currently active remote target. A nil target
// with a nil error means no target is active and the executor simulates.
type TargetDirectory interface {
	Active(ctx context.Context) (*models.RemoteTarget, error)
}

// TargetCaller proxies actions to a remote target.
type TargetCaller interface {
	Monitor(ctx context.Context, target models.RemoteTarget) (models.StatusReport, error)
	Scale(ctx context.Context, target models.RemoteTarget, replicas int) (models.ScaleReply, error)
	Rollback(ctx context.Context, target models.RemoteTarget) (string, error)
}

// ExecutorConfig tunes the simulated workload and the autopilot.
type ExecutorConfig struct {
	ServiceName      string
	BaselineReplicas int
	InitialDemand    float64
	DemandBase       float64
	DemandStep       float64
	AutopilotDelay   time.Duration
}

// Executor is the single place remediation actions are carried out. One
// mutex serialises every mutation of the system state, the open incident and
// the approval queue; manual requests, approval-triggered requests and
// autopilot timers all funnel through it. Delegate calls happen under the
// lock and are bounded by the target client's timeout.
type Executor struct {
	mu  sync.Mutex
	cfg ExecutorConfig

	state      models.SystemState
	capacity   CapacityModel
	classifier *Classifier
	tracker    *IncidentTracker
	policy     *PolicyEngine
	approvals  *ApprovalQueue
	planner    AutopilotPlanner

	targets  TargetDirectory
	caller   TargetCaller
	recorder audit.Recorder
	logger   *slog.Logger

	now      func() time.Time
	schedule func(time.Duration, func())
}

// NewExecutor assembles the remediation core. targets and caller may be nil,
// in which case every action runs against the simulated workload.
func NewExecutor(
	cfg ExecutorConfig,
	capacity CapacityModel,
	classifier *Classifier,
	tracker *IncidentTracker,
	policy *PolicyEngine,
	planner AutopilotPlanner,
	targets TargetDirectory,
	caller TargetCaller,
	recorder audit.Recorder,
	logger *slog.Logger,
) *Executor {
	if cfg.BaselineReplicas <= 0 {
		cfg.BaselineReplicas = 3
	}
	if cfg.InitialDemand < 0 {
		cfg.InitialDemand = 0
	}
	if cfg.AutopilotDelay <= 0 {
		cfg.AutopilotDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:        cfg,
		state:      models.SystemState{Health: models.HealthHealthy, Replicas: cfg.BaselineReplicas, Demand: cfg.InitialDemand},
		capacity:   capacity,
		classifier: classifier,
		tracker:    tracker,
		policy:     policy,
		approvals:  NewApprovalQueue(),
		planner:    planner,
		targets:    targets,
		caller:     caller,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
		schedule:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Status returns a snapshot of the system state.
func (e *Executor) Status() models.SystemState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetAutopilot toggles automatic remediation and returns the new setting.
func (e *Executor) SetAutopilot(enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.AutopilotEnabled = enabled
	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAutopilot,
		Severity: audit.SeverityInfo,
		Message:  "autopilot setting changed",
		Details:  map[string]any{"enabled": enabled},
	})
	return enabled
}

// TriggerAlert simulates an escalating demand spike. Each trigger sizes
// demand for one level above the current incident level; the classifier
// bumps the level if the spike actually opens a new CRITICAL episode.
// Triggers always evaluate the simulated workload, even with an active
// proxy target.
func (e *Executor) TriggerAlert() models.AlertEscalation {
	e.mu.Lock()
	defer e.mu.Unlock()

	level := e.state.IncidentLevel + 1
	e.state.Demand = e.cfg.DemandBase + e.cfg.DemandStep*float64(level)

	report := e.capacity.Report(e.state.Demand, e.state.Replicas, e.cfg.ServiceName)
	report, transition := e.classifier.Observe(&e.state, report)

	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAction,
		Severity: audit.SeverityWarning,
		Message:  "alert triggered",
		Details: map[string]any{
			"level":    level,
			"demand":   e.state.Demand,
			"cpu_load": report.CPULoad,
		},
	})
	e.maybeAutopilot(transition)

	return models.AlertEscalation{Level: level, Demand: e.state.Demand}
}

// Monitor reads the workload status and feeds it to the classifier. With an
// active target the remote report is authoritative; a delegate failure falls
// back to the simulated reading for this invocation only.
func (e *Executor) Monitor(ctx context.Context) models.ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	report, explanation := e.statusReading(ctx)
	report, transition := e.classifier.Observe(&e.state, report)
	e.maybeAutopilot(transition)

	message := fmt.Sprintf("status %s, %d replicas, cpu %.0f%%", report.Status, report.Replicas, report.CPULoad)
	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAction,
		Severity: audit.SeverityInfo,
		Message:  "monitor executed",
		Details: map[string]any{
			"status":   string(report.Status),
			"source":   string(report.Source),
			"cpu_load": report.CPULoad,
		},
	})
	return models.ActionResult{Success: true, Message: message, Explanation: explanation, Report: &report}
}

// Scale changes the replica count, gated by policy unless bypass is set
// (operator approval). The policy check always happens before any state
// mutation or delegate call.
func (e *Executor) Scale(ctx context.Context, replicas float64, bypass bool) models.ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scaleLocked(ctx, replicas, bypass)
}

func (e *Executor) scaleLocked(ctx context.Context, replicas float64, bypass bool) models.ActionResult {
	if !bypass {
		switch verdict := e.policy.ValidateScale(replicas).(type) {
		case models.Deny:
			metrics.RecordVerdict(metrics.VerdictDeny)
			e.record(audit.Event{
				Time:     e.now(),
				Category: audit.CategoryPolicy,
				Severity: audit.SeverityWarning,
				Message:  "scale request denied by policy",
				Details:  map[string]any{"replicas": replicas, "reason": verdict.Reason},
			})
			return models.ActionResult{Denied: true, Message: verdict.Reason}
		case models.Defer:
			approval := e.approvals.Create(models.ScaleAction{Replicas: replicas}, e.now())
			metrics.RecordVerdict(metrics.VerdictDefer)
			metrics.SetPendingApprovals(e.approvals.Len())
			e.record(audit.Event{
				Time:     e.now(),
				Category: audit.CategoryPolicy,
				Severity: audit.SeverityWarning,
				Message:  "scale request deferred for approval",
				Details:  map[string]any{"replicas": replicas, "reason": verdict.Reason, "approval_id": approval.ID},
			})
			return models.ActionResult{ApprovalRequired: true, ApprovalID: approval.ID, Message: verdict.Reason}
		case models.Admit:
			metrics.RecordVerdict(metrics.VerdictAdmit)
		}
	}

	n := int(replicas)
	target := e.activeTarget(ctx)
	message := fmt.Sprintf("scaled to %d replicas", n)

	if target != nil {
		reply, err := e.caller.Scale(ctx, *target, n)
		if err != nil {
			metrics.DelegateRequest("scale", metrics.OutcomeError)
			e.logger.Warn("scale delegate failed", slog.String("target", target.ServiceName), slog.Any("error", err))
			e.record(audit.Event{
				Time:     e.now(),
				Category: audit.CategoryAction,
				Severity: audit.SeverityError,
				Message:  "scale delegate failed",
				Details:  map[string]any{"target": target.ServiceName, "replicas": n, "error": err.Error()},
			})
			return models.ActionResult{Message: fmt.Sprintf("scale request to %s failed", target.ServiceName)}
		}
		metrics.DelegateRequest("scale", metrics.OutcomeSuccess)
		if reply.Replicas > 0 {
			n = reply.Replicas
		}
		e.state.Replicas = n
		e.tracker.Append(fmt.Sprintf("Scaled %s to %d replicas", target.ServiceName, n))
		if reply.Status != "" {
			if status, parseErr := models.ParseHealthState(reply.Status); parseErr == nil {
				remote := models.StatusReport{
					Status:   status,
					Replicas: n,
					Source:   models.SourceRemote,
					Service:  target.ServiceName,
				}
				e.classifier.Observe(&e.state, remote)
			}
		}
		if reply.Message != "" {
			message = reply.Message
		}
	} else {
		// Health is left alone; the next monitor reading reclassifies
		// against the new capacity.
		e.state.Replicas = n
		e.tracker.Append(fmt.Sprintf("Scaled to %d replicas", n))
	}

	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAction,
		Severity: audit.SeverityInfo,
		Message:  "scale executed",
		Details:  map[string]any{"replicas": n, "bypass": bypass, "delegated": target != nil},
	})
	return models.ActionResult{Success: true, Message: message}
}

// Rollback reverts the workload to its baseline deployment. The verdict is
// always an admit but still flows through the policy engine for the audit
// trail.
func (e *Executor) Rollback(ctx context.Context) models.ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.policy.ValidateRollback().(models.Admit); ok {
		metrics.RecordVerdict(metrics.VerdictAdmit)
		e.record(audit.Event{
			Time:     e.now(),
			Category: audit.CategoryPolicy,
			Severity: audit.SeverityInfo,
			Message:  "rollback admitted",
			Details:  map[string]any{},
		})
	}

	target := e.activeTarget(ctx)
	message := fmt.Sprintf("rolled back to baseline of %d replicas", e.cfg.BaselineReplicas)

	if target != nil {
		reply, err := e.caller.Rollback(ctx, *target)
		if err != nil {
			metrics.DelegateRequest("rollback", metrics.OutcomeError)
			e.logger.Warn("rollback delegate failed", slog.String("target", target.ServiceName), slog.Any("error", err))
			e.record(audit.Event{
				Time:     e.now(),
				Category: audit.CategoryAction,
				Severity: audit.SeverityError,
				Message:  "rollback delegate failed",
				Details:  map[string]any{"target": target.ServiceName, "error": err.Error()},
			})
			return models.ActionResult{Message: fmt.Sprintf("rollback request to %s failed", target.ServiceName)}
		}
		metrics.DelegateRequest("rollback", metrics.OutcomeSuccess)
		// The reply carries no replica count, so local state stays as is
		// until the next monitor reading syncs with the target.
		e.tracker.Append(fmt.Sprintf("Rolled back %s", target.ServiceName))
		if reply != "" {
			message = reply
		}
	} else {
		e.state.Replicas = e.cfg.BaselineReplicas
		e.tracker.Append(fmt.Sprintf("Rolled back to baseline of %d replicas", e.cfg.BaselineReplicas))
	}

	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAction,
		Severity: audit.SeverityInfo,
		Message:  "rollback executed",
		Details:  map[string]any{"delegated": target != nil},
	})
	return models.ActionResult{Success: true, Message: message}
}

// Approvals lists deferred actions awaiting sign-off, oldest first.
func (e *Executor) Approvals() []models.PendingApproval {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.approvals.List()
}

// Approve consumes a pending approval and re-enters the executor with the
// policy gate bypassed.
func (e *Executor) Approve(ctx context.Context, id string) (models.ActionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	approval, ok := e.approvals.Take(id)
	if !ok {
		return models.ActionResult{}, ErrApprovalNotFound
	}
	metrics.SetPendingApprovals(e.approvals.Len())
	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryPolicy,
		Severity: audit.SeverityInfo,
		Message:  "pending action approved by operator",
		Details:  map[string]any{"approval_id": approval.ID, "action": approval.Action.Name()},
	})

	switch action := approval.Action.(type) {
	case models.ScaleAction:
		return e.scaleLocked(ctx, action.Replicas, true), nil
	default:
		return models.ActionResult{}, fmt.Errorf("deferred action %q cannot be executed", approval.Action.Name())
	}
}

// History returns the closed incidents in chronological order.
func (e *Executor) History() []models.Incident {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.History()
}

// CurrentIncident returns the open incident, if any.
func (e *Executor) CurrentIncident() (models.Incident, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Current()
}

// IncidentStats aggregates MTTR across the closed history.
func (e *Executor) IncidentStats() models.IncidentStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.Stats()
}

// SetPolicy swaps the governance pack, typically on hot reload.
func (e *Executor) SetPolicy(pack PolicyPack) {
	e.policy.SetPack(pack)
	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryPolicy,
		Severity: audit.SeverityInfo,
		Message:  "governance policy reloaded",
		Details:  map[string]any{"max_auto_replicas": pack.MaxAutoReplicas},
	})
}

// statusReading picks the source of truth for one monitor invocation:
// the active target when one responds, the capacity model otherwise.
func (e *Executor) statusReading(ctx context.Context) (models.StatusReport, string) {
	simulated := e.capacity.Report(e.state.Demand, e.state.Replicas, e.cfg.ServiceName)
	target := e.activeTarget(ctx)
	if target == nil {
		return simulated, ""
	}

	report, err := e.caller.Monitor(ctx, *target)
	if err != nil {
		metrics.DelegateRequest("monitor", metrics.OutcomeError)
		e.logger.Warn("monitor delegate failed, using simulated metrics",
			slog.String("target", target.ServiceName), slog.Any("error", err))
		return simulated, fmt.Sprintf("target %s unreachable, reporting simulated metrics", target.ServiceName)
	}
	metrics.DelegateRequest("monitor", metrics.OutcomeSuccess)
	return report, ""
}

// maybeAutopilot schedules a scale action after a CRITICAL transition when
// autopilot is on. The timer is fire-once and never cancelled; the delayed
// call re-enters the full policy path with whatever state exists then, so an
// operator who already remediated manually can still see it fire.
func (e *Executor) maybeAutopilot(transition Transition) {
	if transition != TransitionDegraded || !e.state.AutopilotEnabled {
		return
	}

	target := e.planner.PlanReplicas(e.state.Demand, e.state.Replicas)
	metrics.AutopilotPlanned()
	e.logger.Info("autopilot planned remediation",
		slog.Int("target_replicas", target),
		slog.Duration("delay", e.cfg.AutopilotDelay),
	)
	e.record(audit.Event{
		Time:     e.now(),
		Category: audit.CategoryAutopilot,
		Severity: audit.SeverityInfo,
		Message:  "autopilot scheduled scale action",
		Details: map[string]any{
			"target_replicas": target,
			"delay":           e.cfg.AutopilotDelay.String(),
			"demand":          e.state.Demand,
		},
	})
	e.schedule(e.cfg.AutopilotDelay, func() {
		e.Scale(context.Background(), float64(target), false)
	})
}

func (e *Executor) activeTarget(ctx context.Context) *models.RemoteTarget {
	if e.targets == nil || e.caller == nil {
		return nil
	}
	target, err := e.targets.Active(ctx)
	if err != nil {
		e.logger.Warn("active target lookup failed", slog.Any("error", err))
		return nil
	}
	return target
}

func (e *Executor) record(event audit.Event) {
	if e.recorder != nil {
		e.recorder.Record(event)
	}
}
