package models

import "time"

// TargetStatus tracks a registered remote target through its approval lifecycle.
type TargetStatus string

const (
	// TargetPending is the state of a freshly registered target.
	TargetPending TargetStatus = "pending"
	// TargetApproved means an operator vetted the target but it is not live.
	TargetApproved TargetStatus = "approved"
	// TargetActive marks the single target the executor proxies to.
	TargetActive TargetStatus = "active"
	// TargetRejected permanently retires a target.
	TargetRejected TargetStatus = "rejected"
)

// RemoteTarget is an operator-registered downstream workload the controller
// may proxy monitor/scale/rollback calls to instead of simulating them.
type RemoteTarget struct {
	ID          string
	ServiceName string
	MonitorURL  string
	ScaleURL    string
	RollbackURL string
	APIKey      string
	Status      TargetStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ScaleReply is the payload a remote target returns for a scale request.
type ScaleReply struct {
	Status   string
	Replicas int
	Message  string
}
