package engine

import (
	"testing"
	"time"
)

func TestTrackerSingleOpenIncident(t *testing.T) {
	tracker := NewIncidentTracker()
	start := time.Unix(1_700_000_000, 0)

	first, opened := tracker.Open(start)
	if !opened || first.ID == "" {
		t.Fatalf("expected first open to succeed, got %+v opened=%v", first, opened)
	}

	second, opened := tracker.Open(start.Add(time.Minute))
	if opened {
		t.Fatalf("second open must be refused while an incident is open")
	}
	if second.ID != first.ID {
		t.Fatalf("refused open should surface the existing incident")
	}
}

func TestTrackerCloseComputesMTTR(t *testing.T) {
	tracker := NewIncidentTracker()
	start := time.Unix(1_700_000_000, 0)
	end := start.Add(90 * time.Second)

	tracker.Open(start)
	tracker.Append("Scaled to 6 replicas")

	closed, ok := tracker.Close(end)
	if !ok {
		t.Fatalf("expected close to resolve the open incident")
	}
	if closed.MTTRSeconds != 90 {
		t.Fatalf("expected mttr of 90s, got %f", closed.MTTRSeconds)
	}
	if len(closed.Actions) != 1 || closed.Actions[0] != "Scaled to 6 replicas" {
		t.Fatalf("unexpected actions: %v", closed.Actions)
	}
	if _, open := tracker.Current(); open {
		t.Fatalf("incident should no longer be open")
	}
}

func TestTrackerDuplicateCloseIsNoop(t *testing.T) {
	tracker := NewIncidentTracker()
	start := time.Unix(1_700_000_000, 0)

	tracker.Open(start)
	if _, ok := tracker.Close(start.Add(time.Minute)); !ok {
		t.Fatalf("first close should succeed")
	}
	if _, ok := tracker.Close(start.Add(2 * time.Minute)); ok {
		t.Fatalf("duplicate close must be a no-op")
	}
	if len(tracker.History()) != 1 {
		t.Fatalf("expected exactly one closed incident, got %d", len(tracker.History()))
	}
}

func TestTrackerAppendWithoutOpenIncident(t *testing.T) {
	tracker := NewIncidentTracker()
	tracker.Append("orphan action")
	if len(tracker.History()) != 0 {
		t.Fatalf("append without an open incident must not create history")
	}
}

func TestTrackerHistoryChronologicalAndCopied(t *testing.T) {
	tracker := NewIncidentTracker()
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		tracker.Open(start)
		tracker.Close(start.Add(time.Duration(i+1) * time.Minute))
	}

	history := tracker.History()
	if len(history) != 3 {
		t.Fatalf("expected 3 closed incidents, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].StartedAt.Before(history[i-1].StartedAt) {
			t.Fatalf("history out of order at index %d", i)
		}
	}

	history[0].ID = "mutated"
	if tracker.History()[0].ID == "mutated" {
		t.Fatalf("History must return a copy")
	}
}

func TestTrackerStats(t *testing.T) {
	tracker := NewIncidentTracker()
	base := time.Unix(1_700_000_000, 0)

	tracker.Open(base)
	tracker.Close(base.Add(60 * time.Second))
	tracker.Open(base.Add(time.Hour))
	tracker.Close(base.Add(time.Hour + 120*time.Second))

	stats := tracker.Stats()
	if stats.Total != 2 {
		t.Fatalf("expected 2 incidents, got %d", stats.Total)
	}
	if stats.MeanMTTRSeconds != 90 {
		t.Fatalf("expected mean mttr 90, got %f", stats.MeanMTTRSeconds)
	}
	if stats.MaxMTTRSeconds != 120 {
		t.Fatalf("expected max mttr 120, got %f", stats.MaxMTTRSeconds)
	}
	if !stats.LastEndedAt.Equal(base.Add(time.Hour + 120*time.Second)) {
		t.Fatalf("unexpected last end: %v", stats.LastEndedAt)
	}
}
