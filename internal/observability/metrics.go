package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	dispatchDecisionTotal *prometheus.CounterVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	retryAttemptsTotal    *prometheus.CounterVec
	quarantinedLinesTotal prometheus.Counter

	completionTotal    *prometheus.CounterVec
	completionDuration *prometheus.HistogramVec
	providerCooldown   *prometheus.GaugeVec

	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeSessions       prometheus.Gauge
	sessionLoadDuration  prometheus.Histogram
	sessionSaveDuration  prometheus.Histogram
	memorySearchDuration prometheus.Histogram
	memoryEntriesTotal   prometheus.Gauge

	tasksOpenTotal     prometheus.Gauge
	remindersSentTotal *prometheus.CounterVec

	webFetchesTotal *prometheus.CounterVec

	gatewayRequestsTotal    *prometheus.CounterVec
	gatewayClientsConnected prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			dispatchDecisionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_decision_total",
					Help: "Total dispatch decisions by action.",
				},
				[]string{"action"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool and error code.",
				},
				[]string{"tool", "code"},
			),
			retryAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "retry_attempts_total",
					Help: "Total retry attempts by operation.",
				},
				[]string{"operation"},
			),
			quarantinedLinesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "quarantined_lines_total",
					Help: "Total corrupt lines moved to quarantine files.",
				},
			),
			completionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "completion_total",
					Help: "Total model completions by provider and status.",
				},
				[]string{"provider", "status"},
			),
			completionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "completion_duration_seconds",
					Help:    "Model completion duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
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
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memory_search_duration_seconds",
					Help:    "Memory search duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memory_entries_total",
					Help: "Total memory entries indexed.",
				},
			),
			tasksOpenTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "tasks_open_total",
					Help: "Open tasks on the task log.",
				},
			),
			remindersSentTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "reminders_sent_total",
					Help: "Task reminders delivered by kind.",
				},
				[]string{"kind"},
			),
			webFetchesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "web_fetches_total",
					Help: "Web fetches by kind and status.",
				},
				[]string{"kind", "status"},
			),
			gatewayRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			gatewayClientsConnected: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients_connected",
					Help: "Currently connected gateway clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.dispatchDecisionTotal,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.retryAttemptsTotal,
			m.quarantinedLinesTotal,
			m.completionTotal,
			m.completionDuration,
			m.providerCooldown,
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.memorySearchDuration,
			m.memoryEntriesTotal,
			m.tasksOpenTotal,
			m.remindersSentTotal,
			m.webFetchesTotal,
			m.gatewayRequestsTotal,
			m.gatewayClientsConnected,
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

func RecordDispatchDecision(action string) {
	getMetrics().dispatchDecisionTotal.WithLabelValues(action).Inc()
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolError(tool, code string) {
	getMetrics().toolErrorsTotal.WithLabelValues(tool, code).Inc()
}

func RecordRetryAttempt(operation string) {
	getMetrics().retryAttemptsTotal.WithLabelValues(operation).Inc()
}

func AddQuarantinedLines(count int) {
	getMetrics().quarantinedLinesTotal.Add(float64(count))
}

func RecordCompletion(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.completionTotal.WithLabelValues(provider, status).Inc()
	m.completionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(provider).Set(value)
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetQueueSize(lane string, queueSize int) {
	getMetrics().queueSize.WithLabelValues(lane).Set(float64(queueSize))
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

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func RecordMemorySearch(duration time.Duration) {
	getMetrics().memorySearchDuration.Observe(duration.Seconds())
}

func SetMemoryEntries(total int) {
	getMetrics().memoryEntriesTotal.Set(float64(total))
}

func SetTasksOpen(total int) {
	getMetrics().tasksOpenTotal.Set(float64(total))
}

func RecordReminderSent(kind string) {
	getMetrics().remindersSentTotal.WithLabelValues(kind).Inc()
}

func RecordWebFetch(kind string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().webFetchesTotal.WithLabelValues(kind, status).Inc()
}

func RecordGatewayRequest(method string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().gatewayRequestsTotal.WithLabelValues(method, status).Inc()
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClientsConnected.Set(float64(count))
}
