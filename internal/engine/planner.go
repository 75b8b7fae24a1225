package engine

import "math"

// AutopilotPlanner computes a target replica count for a degraded workload.
// The timer and the policy gate live in the executor; planning is pure.
type AutopilotPlanner struct {
	// Headroom is the multiplier applied to demand before sizing, so the
	// fleet lands below saturation rather than exactly at it.
	Headroom float64
	// PerReplica mirrors the capacity model's per-replica load.
	PerReplica float64
}

// PlanReplicas sizes the fleet for the given demand with headroom, but never
// recommends fewer than two replicas above the current count, so a remediation
// always makes visible forward progress.
func (p AutopilotPlanner) PlanReplicas(demand float64, current int) int {
	needed := int(math.Ceil(demand * p.Headroom / p.PerReplica))
	if floor := current + 2; needed < floor {
		needed = floor
	}
	return needed
}
