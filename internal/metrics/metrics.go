package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels operations that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels operations that failed (policy, delegate or input issues).
	OutcomeError = "error"

	// VerdictAdmit labels policy checks that authorised an action.
	VerdictAdmit = "admit"
	// VerdictDeny labels policy checks that blocked an action.
	VerdictDeny = "deny"
	// VerdictDefer labels policy checks parked for operator approval.
	VerdictDefer = "defer"
)

var (
	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "actions_total",
			Help:      "Remediation actions handled, partitioned by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	actionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "action_seconds",
			Help:      "Action execution latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"action"},
	)

	policyVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "policy_verdicts_total",
			Help:      "Policy gate outcomes, partitioned by verdict.",
		},
		[]string{"verdict"},
	)

	incidentsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "incidents_opened_total",
			Help:      "Incidents opened by CRITICAL transitions.",
		},
	)

	incidentsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "incidents_resolved_total",
			Help:      "Incidents closed by recovery to HEALTHY.",
		},
	)

	incidentMTTRSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "incident_mttr_seconds",
			Help:      "Time from incident open to close in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	autopilotPlansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "autopilot_plans_total",
			Help:      "Remediations planned and scheduled by the autopilot.",
		},
	)

	delegateRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "delegate_requests_total",
			Help:      "Proxied calls to the active remote target.",
		},
		[]string{"operation", "outcome"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "http_requests_total",
			Help:      "API requests, partitioned by method, route and status code.",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "http_request_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	systemCPULoad = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "system_cpu_load",
			Help:      "Most recent CPU load reading (0-100).",
		},
	)

	systemMemoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "system_memory_usage",
			Help:      "Most recent memory usage reading (0-100).",
		},
	)

	systemReplicas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "system_replicas",
			Help:      "Current replica count.",
		},
	)

	systemDemand = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "system_demand",
			Help:      "Current demand in load units.",
		},
	)

	systemHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "system_healthy",
			Help:      "1 while the workload is HEALTHY, 0 while CRITICAL.",
		},
	)

	pendingApprovals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "pending_approvals",
			Help:      "Deferred actions awaiting operator approval.",
		},
	)
)

// Register attaches mirador-remediate collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		actionsTotal,
		actionDurationSeconds,
		policyVerdictsTotal,
		incidentsOpenedTotal,
		incidentsResolvedTotal,
		incidentMTTRSeconds,
		autopilotPlansTotal,
		delegateRequestsTotal,
		httpRequestsTotal,
		httpRequestSeconds,
		systemCPULoad,
		systemMemoryUsage,
		systemReplicas,
		systemDemand,
		systemHealthy,
		pendingApprovals,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAction records one executed action with its latency and outcome.
func ObserveAction(action string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	actionsTotal.WithLabelValues(action, label).Inc()
	if duration < 0 {
		duration = 0
	}
	actionDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordVerdict counts one policy gate outcome.
func RecordVerdict(verdict string) {
	policyVerdictsTotal.WithLabelValues(verdict).Inc()
}

// IncidentOpened counts a new CRITICAL episode.
func IncidentOpened() {
	incidentsOpenedTotal.Inc()
}

// IncidentResolved counts a recovery and observes its MTTR.
func IncidentResolved(mttrSeconds float64) {
	incidentsResolvedTotal.Inc()
	if mttrSeconds < 0 {
		mttrSeconds = 0
	}
	incidentMTTRSeconds.Observe(mttrSeconds)
}

// AutopilotPlanned counts one scheduled autopilot remediation.
func AutopilotPlanned() {
	autopilotPlansTotal.Inc()
}

// DelegateRequest counts one proxied call to the remote target.
func DelegateRequest(operation, outcome string) {
	delegateRequestsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route, code string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, code).Inc()
	if duration < 0 {
		duration = 0
	}
	httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetSystemGauges refreshes the workload gauges after a classification.
func SetSystemGauges(cpuLoad, memoryUsage float64, replicas int, demand float64, healthy bool) {
	systemCPULoad.Set(cpuLoad)
	systemMemoryUsage.Set(memoryUsage)
	systemReplicas.Set(float64(replicas))
	systemDemand.Set(demand)
	if healthy {
		systemHealthy.Set(1)
	} else {
		systemHealthy.Set(0)
	}
}

// SetPendingApprovals refreshes the pending-approvals gauge.
func SetPendingApprovals(count int) {
	pendingApprovals.Set(float64(count))
}
