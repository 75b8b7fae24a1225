package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// IncidentTracker owns the open incident and the append-only closed history.
// It has no internal locking; the executor serialises all access.
type IncidentTracker struct {
	open    *models.Incident
	history []models.Incident
}

// NewIncidentTracker returns an empty tracker.
func NewIncidentTracker() *IncidentTracker {
	return &IncidentTracker{}
}

// Open starts a new incident at the given time. At most one incident may be
// open; when one already is, Open reports false and leaves it untouched.
func (t *IncidentTracker) Open(now time.Time) (models.Incident, bool) {
	if t.open != nil {
		return *t.open, false
	}
	t.open = &models.Incident{
		ID:        uuid.NewString(),
		StartedAt: now,
	}
	return *t.open, true
}

// Append records a remediation step against the open incident. Without an
// open incident it is a no-op.
func (t *IncidentTracker) Append(description string) {
	if t.open == nil {
		return
	}
	t.open.Actions = append(t.open.Actions, description)
}

// Close resolves the open incident, computes its MTTR and moves it to the
// history. Duplicate recovery signals (proxy sync and local classification
// can both report HEALTHY) make Close a no-op when nothing is open.
func (t *IncidentTracker) Close(now time.Time) (models.Incident, bool) {
	if t.open == nil {
		return models.Incident{}, false
	}
	incident := *t.open
	incident.EndedAt = now
	incident.MTTRSeconds = now.Sub(incident.StartedAt).Seconds()
	t.history = append(t.history, incident)
	t.open = nil
	return incident, true
}

// Current returns a copy of the open incident, if any.
func (t *IncidentTracker) Current() (models.Incident, bool) {
	if t.open == nil {
		return models.Incident{}, false
	}
	return *t.open, true
}

// History returns the closed incidents in chronological order.
func (t *IncidentTracker) History() []models.Incident {
	out := make([]models.Incident, len(t.history))
	copy(out, t.history)
	return out
}

// Stats aggregates MTTR across the closed history.
func (t *IncidentTracker) Stats() models.IncidentStats {
	stats := models.IncidentStats{Total: len(t.history)}
	if stats.Total == 0 {
		return stats
	}
	var sum float64
	for _, incident := range t.history {
		sum += incident.MTTRSeconds
		if incident.MTTRSeconds > stats.MaxMTTRSeconds {
			stats.MaxMTTRSeconds = incident.MTTRSeconds
		}
	}
	stats.MeanMTTRSeconds = sum / float64(stats.Total)
	stats.LastEndedAt = t.history[len(t.history)-1].EndedAt
	return stats
}
