package engine

import (
	"math"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// CapacityModel converts demand and replica counts into utilization figures.
// All methods are pure arithmetic with no failure modes.
type CapacityModel struct {
	// PerReplica is the load one replica absorbs before saturating.
	PerReplica float64
}

// Utilization returns demand divided by total capacity. A zero-capacity
// fleet under load reads as infinitely utilised.
func (m CapacityModel) Utilization(demand float64, replicas int) float64 {
	total := float64(replicas) * m.PerReplica
	if total <= 0 {
		if demand <= 0 {
			return 0
		}
		return math.Inf(1)
	}
	return demand / total
}

// CPULoad derives a 0-100 CPU figure from a utilization ratio.
func (m CapacityModel) CPULoad(utilization float64) float64 {
	return math.Min(100, math.Round(utilization*100))
}

// MemoryUsage derives a 0-100 memory figure tracking CPU load.
func (m CapacityModel) MemoryUsage(cpuLoad float64) float64 {
	usage := cpuLoad*0.8 + 20
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

// Report assembles a simulated status reading for the given demand and
// replica count. The health status is left empty; the classifier owns the
// critical threshold.
func (m CapacityModel) Report(demand float64, replicas int, service string) models.StatusReport {
	utilization := m.Utilization(demand, replicas)
	cpu := m.CPULoad(utilization)
	return models.StatusReport{
		Replicas:    replicas,
		CPULoad:     cpu,
		MemoryUsage: m.MemoryUsage(cpu),
		Utilization: utilization,
		Source:      models.SourceSimulated,
		Service:     service,
	}
}
