package models

import (
	"fmt"
	"time"
)

// Action is the closed set of remediation actions the executor can carry out.
type Action interface {
	Name() string
	Describe() string
	sealedAction()
}

// MonitorAction reads the workload status without mutating anything.
type MonitorAction struct{}

func (MonitorAction) Name() string     { return "monitor" }
func (MonitorAction) Describe() string { return "Checked workload status" }
func (MonitorAction) sealedAction()    {}

// ScaleAction requests a replica count change. Replicas is kept as a float
// so the policy engine can reject non-integer and non-finite inputs instead
// of silently truncating them.
type ScaleAction struct {
	Replicas float64
}

func (a ScaleAction) Name() string { return "scale" }

func (a ScaleAction) Describe() string {
	return fmt.Sprintf("Scaled to %v replicas", a.Replicas)
}

func (ScaleAction) sealedAction() {}

// RollbackAction reverts the workload to its baseline deployment.
type RollbackAction struct{}

func (RollbackAction) Name() string     { return "rollback" }
func (RollbackAction) Describe() string { return "Rolled back to baseline deployment" }
func (RollbackAction) sealedAction()    {}

// Verdict is the closed set of policy outcomes for a proposed action.
type Verdict interface {
	sealedVerdict()
}

// Admit authorises the action unconditionally.
type Admit struct{}

func (Admit) sealedVerdict() {}

// Deny blocks the action; Reason names the violated rule.
type Deny struct {
	Reason string
}

func (Deny) sealedVerdict() {}

// Defer parks the action for operator approval.
type Defer struct {
	Reason     string
	ApprovalID string
}

func (Defer) sealedVerdict() {}

// PendingApproval is a deferred mutating action awaiting operator sign-off.
// Approvals never expire; they live until approved or the process restarts.
type PendingApproval struct {
	ID        string
	Action    Action
	CreatedAt time.Time
}

// ActionResult reports the outcome of one executor invocation.
type ActionResult struct {
	Success          bool
	Message          string
	Explanation      string
	Denied           bool
	ApprovalRequired bool
	ApprovalID       string
	Report           *StatusReport
}
