package models

import (
	"fmt"
	"strings"
	"time"
)

// HealthState classifies the workload as either healthy or critical.
type HealthState string

const (
	// HealthHealthy indicates utilization is within capacity.
	HealthHealthy HealthState = "HEALTHY"
	// HealthCritical indicates the workload is saturated.
	HealthCritical HealthState = "CRITICAL"
)

// ParseHealthState normalises a remote-reported status string. Anything the
// controller does not recognise is treated as a malformed delegate response.
func ParseHealthState(value string) (HealthState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "healthy", "ok":
		return HealthHealthy, nil
	case "critical", "unhealthy", "degraded":
		return HealthCritical, nil
	default:
		return "", fmt.Errorf("unknown health status %q", value)
	}
}

// SystemState is the mutable aggregate owned by the action executor.
// All fields are read and written only under the executor lock; callers
// receive snapshots by value.
type SystemState struct {
	Health           HealthState
	Replicas         int
	Demand           float64
	AutopilotEnabled bool
	IncidentLevel    int
	LastAlertAt      time.Time
}

// ReportSource records which source of truth produced a status report.
type ReportSource string

const (
	// SourceSimulated marks a report computed from the local capacity model.
	SourceSimulated ReportSource = "simulated"
	// SourceRemote marks a report obtained from the active remote target.
	SourceRemote ReportSource = "remote"
)

// StatusReport is one health reading, either simulated or remote.
type StatusReport struct {
	Status      HealthState
	Replicas    int
	CPULoad     float64
	MemoryUsage float64
	Utilization float64
	Source      ReportSource
	Service     string
}

// AlertEscalation describes the demand spike produced by a triggered alert.
type AlertEscalation struct {
	Level  int
	Demand float64
}
