package engine

import "testing"

func TestPlanReplicasHeadroom(t *testing.T) {
	planner := AutopilotPlanner{Headroom: 1.2, PerReplica: 200}

	// ceil(1000*1.2/200) = 6, floor 3+2 = 5.
	if got := planner.PlanReplicas(1000, 3); got != 6 {
		t.Fatalf("expected 6 replicas, got %d", got)
	}
}

func TestPlanReplicasForwardProgressFloor(t *testing.T) {
	planner := AutopilotPlanner{Headroom: 1.2, PerReplica: 200}

	// Headroom formula recommends 2, but the plan must add at least two
	// replicas over the current fleet.
	if got := planner.PlanReplicas(300, 5); got != 7 {
		t.Fatalf("expected 7 replicas, got %d", got)
	}
}

func TestPlanReplicasLargeDemandExceedsFloor(t *testing.T) {
	planner := AutopilotPlanner{Headroom: 1.2, PerReplica: 200}

	// ceil(3000*1.2/200) = 18, well above 3+2.
	if got := planner.PlanReplicas(3000, 3); got != 18 {
		t.Fatalf("expected 18 replicas, got %d", got)
	}
}
