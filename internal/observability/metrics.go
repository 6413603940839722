package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeConversations    prometheus.Gauge
	transcriptLoadDuration prometheus.Histogram
	transcriptSaveDuration prometheus.Histogram

	validationTotal *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec

	statRequestTotal    *prometheus.CounterVec
	statRequestDuration *prometheus.HistogramVec
	loginTotal          *prometheus.CounterVec
	authRetryTotal      prometheus.Counter
	resultCacheTotal    *prometheus.CounterVec

	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	agentErrorsTotal   *prometheus.CounterVec
	modelDecisionTotal *prometheus.CounterVec
	fallbackTotal      prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current stored conversation count.",
				},
			),
			transcriptLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_load_duration_seconds",
					Help:    "Transcript load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			transcriptSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "transcript_save_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			validationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "validation_total",
					Help: "Total request validations by statistic and outcome.",
				},
				[]string{"statistic", "outcome"},
			),
			violationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "validation_violations_total",
					Help: "Total validation violations by field.",
				},
				[]string{"field"},
			),
			statRequestTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stat_request_total",
					Help: "Total statistics service requests by statistic and status.",
				},
				[]string{"statistic", "status"},
			),
			statRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "stat_request_duration_seconds",
					Help:    "Statistics service request duration in seconds by statistic.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"statistic"},
			),
			loginTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "login_total",
					Help: "Total statistics service logins by status.",
				},
				[]string{"status"},
			),
			authRetryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "auth_retry_total",
					Help: "Total request retries after credential invalidation.",
				},
			),
			resultCacheTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "result_cache_total",
					Help: "Total result cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			modelDecisionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_decision_total",
					Help: "Total model decisions by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			fallbackTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "fallback_total",
					Help: "Total runs ended by the step budget fallback.",
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeConversations,
			m.transcriptLoadDuration,
			m.transcriptSaveDuration,
			m.validationTotal,
			m.violationsTotal,
			m.statRequestTotal,
			m.statRequestDuration,
			m.loginTotal,
			m.authRetryTotal,
			m.resultCacheTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentErrorsTotal,
			m.modelDecisionTotal,
			m.fallbackTotal,
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

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveConversations(count int) {
	m := getMetrics()
	m.activeConversations.Set(float64(count))
}

func RecordTranscriptLoad(duration time.Duration) {
	m := getMetrics()
	m.transcriptLoadDuration.Observe(duration.Seconds())
}

func RecordTranscriptSave(duration time.Duration) {
	m := getMetrics()
	m.transcriptSaveDuration.Observe(duration.Seconds())
}

func RecordValidation(statistic string, ok bool) {
	m := getMetrics()
	outcome := "rejected"
	if ok {
		outcome = "accepted"
	}
	m.validationTotal.WithLabelValues(statistic, outcome).Inc()
}

func RecordViolation(field string) {
	m := getMetrics()
	m.violationsTotal.WithLabelValues(field).Inc()
}

func RecordStatRequest(statistic string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.statRequestTotal.WithLabelValues(statistic, status).Inc()
	m.statRequestDuration.WithLabelValues(statistic).Observe(duration.Seconds())
}

func RecordLogin(success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.loginTotal.WithLabelValues(status).Inc()
}

func RecordAuthRetry() {
	m := getMetrics()
	m.authRetryTotal.Inc()
}

func RecordResultCacheLookup(hit bool) {
	m := getMetrics()
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.resultCacheTotal.WithLabelValues(outcome).Inc()
}

func RecordAgentRun(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordModelDecision(provider, kind string) {
	m := getMetrics()
	m.modelDecisionTotal.WithLabelValues(provider, kind).Inc()
}

func RecordFallback() {
	m := getMetrics()
	m.fallbackTotal.Inc()
}
