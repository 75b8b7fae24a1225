package engine

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

func newTestClassifier(tracker *IncidentTracker, trail *audit.MemoryLog) *Classifier {
	classifier := NewClassifier(90, tracker, trail, discardLogger())
	base := time.Unix(1_700_000_000, 0)
	classifier.now = func() time.Time { return base }
	return classifier
}

func TestClassifierOpensIncidentOnCritical(t *testing.T) {
	tracker := NewIncidentTracker()
	trail := audit.NewMemoryLog(50)
	classifier := newTestClassifier(tracker, trail)

	state := models.SystemState{Health: models.HealthHealthy, Replicas: 3, Demand: 1000}
	model := CapacityModel{PerReplica: 200}

	report, transition := classifier.Observe(&state, model.Report(state.Demand, state.Replicas, "checkout"))
	if transition != TransitionDegraded {
		t.Fatalf("expected degraded transition, got %v", transition)
	}
	if report.Status != models.HealthCritical {
		t.Fatalf("expected CRITICAL status, got %q", report.Status)
	}
	if state.Health != models.HealthCritical || state.IncidentLevel != 1 {
		t.Fatalf("unexpected state: %+v", state)
	}
	if state.LastAlertAt.IsZero() {
		t.Fatalf("alert timestamp should be recorded")
	}
	if _, open := tracker.Current(); !open {
		t.Fatalf("incident should be open")
	}
}

func TestClassifierClosesIncidentOnRecovery(t *testing.T) {
	tracker := NewIncidentTracker()
	classifier := newTestClassifier(tracker, audit.NewMemoryLog(50))
	model := CapacityModel{PerReplica: 200}

	state := models.SystemState{Health: models.HealthHealthy, Replicas: 3, Demand: 1000}
	classifier.Observe(&state, model.Report(state.Demand, state.Replicas, "checkout"))

	// Capacity restored: same demand over ten replicas.
	state.Replicas = 10
	_, transition := classifier.Observe(&state, model.Report(state.Demand, state.Replicas, "checkout"))
	if transition != TransitionRecovered {
		t.Fatalf("expected recovery transition, got %v", transition)
	}
	if state.Health != models.HealthHealthy {
		t.Fatalf("expected HEALTHY state, got %q", state.Health)
	}
	if !state.LastAlertAt.IsZero() {
		t.Fatalf("alert timestamp should be cleared on recovery")
	}
	if len(tracker.History()) != 1 {
		t.Fatalf("expected one closed incident, got %d", len(tracker.History()))
	}
}

func TestClassifierReentrantReadingsAreNoops(t *testing.T) {
	tracker := NewIncidentTracker()
	classifier := newTestClassifier(tracker, audit.NewMemoryLog(50))
	model := CapacityModel{PerReplica: 200}

	state := models.SystemState{Health: models.HealthHealthy, Replicas: 3, Demand: 100}
	for i := 0; i < 3; i++ {
		_, transition := classifier.Observe(&state, model.Report(state.Demand, state.Replicas, "checkout"))
		if transition != TransitionNone {
			t.Fatalf("expected no transition on reading %d", i)
		}
	}
	if state.IncidentLevel != 0 {
		t.Fatalf("healthy readings must not bump the incident level")
	}
}

func TestClassifierTrustsRemoteStatusVerbatim(t *testing.T) {
	tracker := NewIncidentTracker()
	classifier := newTestClassifier(tracker, audit.NewMemoryLog(50))

	state := models.SystemState{Health: models.HealthHealthy, Replicas: 3}

	// Remote says CRITICAL even though local cpu would read healthy.
	remote := models.StatusReport{
		Status:   models.HealthCritical,
		Replicas: 3,
		CPULoad:  12,
		Source:   models.SourceRemote,
	}
	if _, transition := classifier.Observe(&state, remote); transition != TransitionDegraded {
		t.Fatalf("remote CRITICAL must be trusted verbatim")
	}

	remote.Status = models.HealthHealthy
	if _, transition := classifier.Observe(&state, remote); transition != TransitionRecovered {
		t.Fatalf("remote HEALTHY must close the episode")
	}
}

func TestClassifierAuditTrail(t *testing.T) {
	tracker := NewIncidentTracker()
	trail := audit.NewMemoryLog(50)
	classifier := newTestClassifier(tracker, trail)
	model := CapacityModel{PerReplica: 200}

	state := models.SystemState{Health: models.HealthHealthy, Replicas: 3, Demand: 1000}
	classifier.Observe(&state, model.Report(state.Demand, state.Replicas, "checkout"))

	categories := map[string]bool{}
	for _, event := range trail.Recent(0) {
		categories[event.Category] = true
	}
	if !categories[audit.CategoryHealth] || !categories[audit.CategoryIncident] {
		t.Fatalf("expected health and incident events, got %v", categories)
	}
}
