package models

import "time"

// Incident records one HEALTHY -> CRITICAL -> HEALTHY episode.
type Incident struct {
	ID          string
	StartedAt   time.Time
	EndedAt     time.Time
	Actions     []string
	MTTRSeconds float64
}

// Open reports whether the incident has not yet been resolved.
func (i Incident) Open() bool { return i.EndedAt.IsZero() }

// IncidentStats aggregates the closed-incident history.
type IncidentStats struct {
	Total           int
	MeanMTTRSeconds float64
	MaxMTTRSeconds  float64
	LastEndedAt     time.Time
}
