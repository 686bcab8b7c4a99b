package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions     prometheus.Gauge
	connectedClients   prometheus.Gauge
	turnAppendTotal    *prometheus.CounterVec
	turnAppendDuration prometheus.Histogram
	transcriptReads    prometheus.Histogram

	generationTotal    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	deltasForwarded    prometheus.Counter

	pendingTurns      *prometheus.GaugeVec
	summaryRunTotal   *prometheus.CounterVec
	summaryRunSeconds prometheus.Histogram
	scheduleFailures  prometheus.Counter

	workflowStepTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current materialized session actor count.",
				},
			),
			connectedClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "connected_clients",
					Help: "Current connected gateway client count.",
				},
			),
			turnAppendTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "turn_append_total",
					Help: "Total transcript turn appends by role.",
				},
				[]string{"role"},
			),
			turnAppendDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "turn_append_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			transcriptReads: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_read_duration_seconds",
					Help:    "Transcript window read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			generationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "generation_total",
					Help: "Total completion calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			generationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "generation_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			deltasForwarded: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "deltas_forwarded_total",
					Help: "Total streamed text deltas forwarded to clients.",
				},
			),
			pendingTurns: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "pending_turns",
					Help: "Unsummarized turn count by session.",
				},
				[]string{"session"},
			),
			summaryRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "summary_run_total",
					Help: "Total summarization workflow runs by status.",
				},
				[]string{"status"},
			),
			summaryRunSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "summary_run_duration_seconds",
					Help:    "Summarization workflow run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			scheduleFailures: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "workflow_schedule_failures_total",
					Help: "Total failed workflow schedule attempts.",
				},
			),
			workflowStepTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "workflow_step_total",
					Help: "Total workflow step executions by step and status.",
				},
				[]string{"step", "status"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.connectedClients,
			m.turnAppendTotal,
			m.turnAppendDuration,
			m.transcriptReads,
			m.generationTotal,
			m.generationDuration,
			m.deltasForwarded,
			m.pendingTurns,
			m.summaryRunTotal,
			m.summaryRunSeconds,
			m.scheduleFailures,
			m.workflowStepTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func SetConnectedClients(count int) {
	getMetrics().connectedClients.Set(float64(count))
}

func RecordTurnAppend(role string, duration time.Duration) {
	m := getMetrics()
	m.turnAppendTotal.WithLabelValues(role).Inc()
	m.turnAppendDuration.Observe(duration.Seconds())
}

func RecordTranscriptRead(duration time.Duration) {
	getMetrics().transcriptReads.Observe(duration.Seconds())
}

func RecordGeneration(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.generationTotal.WithLabelValues(provider, status).Inc()
	m.generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordDeltaForwarded() {
	getMetrics().deltasForwarded.Inc()
}

func SetPendingTurns(sessionID string, count int) {
	getMetrics().pendingTurns.WithLabelValues(sessionID).Set(float64(count))
}

func RecordSummaryRun(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.summaryRunTotal.WithLabelValues(status).Inc()
	m.summaryRunSeconds.Observe(duration.Seconds())
}

func RecordScheduleFailure() {
	getMetrics().scheduleFailures.Inc()
}

func RecordWorkflowStep(step string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().workflowStepTotal.WithLabelValues(step, status).Inc()
}
