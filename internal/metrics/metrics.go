package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsScoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vigil_sessions_scored_total",
		Help: "Total number of session risk assessments computed",
	})
	anomaliesDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_anomalies_detected_total",
		Help: "Newly detected anomalies by type and severity",
	}, []string{"type", "severity"})
	anomalyScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_anomaly_scan_duration_seconds",
		Help:    "Duration of anomaly scans",
		Buckets: prometheus.DefBuckets,
	})
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_active_sessions",
		Help: "Number of active sessions seen by the last scan",
	})
	sessionActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_session_actions_total",
		Help: "Session monitoring actions by action and outcome",
	}, []string{"action", "outcome"})
	policyConflicts = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_policy_conflicts",
		Help: "Current policy conflicts by severity",
	}, []string{"severity"})
	notificationsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_notifications_sent_total",
		Help: "External notifications by outcome",
	}, []string{"outcome"})
	eventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_event_clients",
		Help: "Connected WebSocket event subscribers",
	})
	jobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_job_runs_total",
		Help: "Scheduled job runs by job and outcome",
	}, []string{"job", "outcome"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry prometheus.Registerer) {
	registry.MustRegister(
		sessionsScoredTotal,
		anomaliesDetectedTotal,
		anomalyScanDuration,
		activeSessions,
		sessionActionsTotal,
		policyConflicts,
		notificationsSentTotal,
		eventClients,
		jobRunsTotal,
	)
}

// AddSessionsScored adds n computed assessments.
func AddSessionsScored(n int) { sessionsScoredTotal.Add(float64(n)) }

// IncAnomalyDetected counts a newly persisted anomaly.
func IncAnomalyDetected(anomalyType, severity string) {
	anomaliesDetectedTotal.WithLabelValues(anomalyType, severity).Inc()
}

// ObserveScan records the duration of one anomaly scan.
func ObserveScan(seconds float64) { anomalyScanDuration.Observe(seconds) }

// SetActiveSessions sets the active session gauge.
func SetActiveSessions(n int) { activeSessions.Set(float64(n)) }

// IncSessionAction counts a session action; outcome is "success" or "error".
func IncSessionAction(action, outcome string) {
	sessionActionsTotal.WithLabelValues(action, outcome).Inc()
}

// SetPolicyConflicts replaces the conflict gauge with the given counts.
func SetPolicyConflicts(bySeverity map[string]int) {
	policyConflicts.Reset()
	for sev, n := range bySeverity {
		policyConflicts.WithLabelValues(sev).Set(float64(n))
	}
}

// IncNotificationSent counts an external notification attempt.
func IncNotificationSent(outcome string) { notificationsSentTotal.WithLabelValues(outcome).Inc() }

// SetEventClients sets the subscriber gauge.
func SetEventClients(n int) { eventClients.Set(float64(n)) }

// IncJobRun counts a scheduled job run.
func IncJobRun(job, outcome string) { jobRunsTotal.WithLabelValues(job, outcome).Inc() }
