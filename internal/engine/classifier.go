package engine

import (
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Transition is the outcome of feeding one status reading to the classifier.
type Transition int

const (
	// TransitionNone means the health state did not change.
	TransitionNone Transition = iota
	// TransitionDegraded marks a HEALTHY -> CRITICAL flip.
	TransitionDegraded
	// TransitionRecovered marks a CRITICAL -> HEALTHY flip.
	TransitionRecovered
)

// Classifier is the two-state health machine. Simulated readings are judged
// against the critical CPU threshold; remote readings are trusted verbatim,
// so a proxied workload decides its own health. It mutates SystemState and
// drives the incident tracker, all under the executor lock.
type Classifier struct {
	criticalCPULoad float64
	tracker         *IncidentTracker
	recorder        audit.Recorder
	logger          *slog.Logger
	now             func() time.Time
}

// NewClassifier wires the state machine to its tracker and audit trail.
func NewClassifier(criticalCPULoad float64, tracker *IncidentTracker, recorder audit.Recorder, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		criticalCPULoad: criticalCPULoad,
		tracker:         tracker,
		recorder:        recorder,
		logger:          logger,
		now:             time.Now,
	}
}

// Observe classifies one reading and applies any resulting transition to the
// system state. Re-entrant readings leave the state untouched but still
// refresh the exported gauges. The returned report carries the resolved
// health status.
func (c *Classifier) Observe(state *models.SystemState, report models.StatusReport) (models.StatusReport, Transition) {
	if report.Status == "" {
		if report.CPULoad > c.criticalCPULoad {
			report.Status = models.HealthCritical
		} else {
			report.Status = models.HealthHealthy
		}
	}

	transition := TransitionNone
	switch {
	case report.Status == models.HealthCritical && state.Health == models.HealthHealthy:
		transition = TransitionDegraded
		c.degrade(state, report)
	case report.Status == models.HealthHealthy && state.Health == models.HealthCritical:
		transition = TransitionRecovered
		c.recover(state, report)
	}

	metrics.SetSystemGauges(report.CPULoad, report.MemoryUsage, state.Replicas, state.Demand, state.Health == models.HealthHealthy)
	return report, transition
}

func (c *Classifier) degrade(state *models.SystemState, report models.StatusReport) {
	now := c.now()
	state.Health = models.HealthCritical
	state.IncidentLevel++
	state.LastAlertAt = now

	incident, opened := c.tracker.Open(now)
	if opened {
		metrics.IncidentOpened()
	}

	c.logger.Warn("workload degraded to CRITICAL",
		slog.Float64("cpu_load", report.CPULoad),
		slog.String("source", string(report.Source)),
		slog.String("incident_id", incident.ID),
	)
	c.record(audit.Event{
		Time:     now,
		Category: audit.CategoryHealth,
		Severity: audit.SeverityWarning,
		Message:  "health transitioned HEALTHY -> CRITICAL",
		Details: map[string]any{
			"cpu_load":       report.CPULoad,
			"source":         string(report.Source),
			"incident_level": state.IncidentLevel,
		},
	})
	c.record(audit.Event{
		Time:     now,
		Category: audit.CategoryIncident,
		Severity: audit.SeverityWarning,
		Message:  "incident opened",
		Details:  map[string]any{"incident_id": incident.ID},
	})
}

func (c *Classifier) recover(state *models.SystemState, report models.StatusReport) {
	now := c.now()
	state.Health = models.HealthHealthy
	state.LastAlertAt = time.Time{}

	incident, closed := c.tracker.Close(now)
	if closed {
		metrics.IncidentResolved(incident.MTTRSeconds)
	}

	c.logger.Info("workload recovered to HEALTHY",
		slog.Float64("cpu_load", report.CPULoad),
		slog.String("source", string(report.Source)),
	)
	c.record(audit.Event{
		Time:     now,
		Category: audit.CategoryHealth,
		Severity: audit.SeverityInfo,
		Message:  "health transitioned CRITICAL -> HEALTHY",
		Details: map[string]any{
			"cpu_load": report.CPULoad,
			"source":   string(report.Source),
		},
	})
	if closed {
		c.record(audit.Event{
			Time:     now,
			Category: audit.CategoryIncident,
			Severity: audit.SeverityInfo,
			Message:  "incident resolved",
			Details: map[string]any{
				"incident_id":  incident.ID,
				"mttr_seconds": incident.MTTRSeconds,
				"actions":      incident.Actions,
			},
		})
	}
}

func (c *Classifier) record(event audit.Event) {
	if c.recorder != nil {
		c.recorder.Record(event)
	}
}
