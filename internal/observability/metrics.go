package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks the dispatch
// pipeline end to end: queue depth and lease latency, tasks reaching a
// terminal status, tool-server aggregation fan-out, project-sync transfer
// volume, SQL query latency, and the HTTP API surface.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SetQueueDepth(depth)
//	defer metrics.RecordSQLQuery("select", "tasks", time.Since(start).Seconds(), nil)
type Metrics struct {
	// QueueDepth is the current count of unleased work items.
	QueueDepth prometheus.Gauge

	// LeaseLatency measures the time between a work item's publish
	// timestamp and the moment a worker leases it.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 300s
	LeaseLatency prometheus.Histogram

	// TasksByTerminalStatus counts assistant tasks reaching a terminal
	// status (completed|failed|cancelled).
	TasksByTerminalStatus *prometheus.CounterVec

	// ToolAggregationDuration measures one Aggregate call's wall time,
	// across every fanned-out tool server.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 2s, 5s, 10s
	ToolAggregationDuration prometheus.Histogram

	// ToolServerResult counts each tool server's contribution to an
	// aggregation round by outcome.
	// Labels: server, outcome (success|failure)
	ToolServerResult *prometheus.CounterVec

	// ProjectSyncBytes tracks bytes materialized to local disk by
	// internal/projectsync.
	ProjectSyncBytes prometheus.Counter

	// ProjectSyncFiles counts files materialized to local disk.
	// Labels: outcome (downloaded|skipped|failed)
	ProjectSyncFiles *prometheus.CounterVec

	// SQLQueryDuration measures database query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	SQLQueryDuration *prometheus.HistogramVec

	// SQLQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	SQLQueryCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error type.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default
// registry and are available at the /metrics endpoint.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskrunner_queue_depth",
				Help: "Current number of unleased work items",
			},
		),

		LeaseLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskrunner_queue_lease_latency_seconds",
				Help:    "Time between a work item's publish timestamp and lease acquisition",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
		),

		TasksByTerminalStatus: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_tasks_terminal_total",
				Help: "Total number of assistant tasks reaching a terminal status",
			},
			[]string{"status"},
		),

		ToolAggregationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskrunner_tool_aggregation_duration_seconds",
				Help:    "Duration of one tool-server aggregation round",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
		),

		ToolServerResult: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_tool_server_results_total",
				Help: "Total tool-server fan-out results by server and outcome",
			},
			[]string{"server", "outcome"},
		),

		ProjectSyncBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskrunner_project_sync_bytes_total",
				Help: "Total bytes materialized to local disk by project sync",
			},
		),

		ProjectSyncFiles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_project_sync_files_total",
				Help: "Total files processed by project sync, by outcome",
			},
			[]string{"outcome"},
		),

		SQLQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskrunner_sql_query_duration_seconds",
				Help:    "Duration of SQL queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		SQLQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_sql_queries_total",
				Help: "Total number of SQL queries",
			},
			[]string{"operation", "table", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskrunner_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskrunner_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// SetQueueDepth records the current number of unleased work items, as
// reported by queue.Queue.Depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordLeaseAcquired records the latency between a work item's publish
// timestamp and its lease acquisition.
func (m *Metrics) RecordLeaseAcquired(waitSeconds float64) {
	m.LeaseLatency.Observe(waitSeconds)
}

// RecordTaskTerminal increments the terminal-status counter for an
// assistant task reaching completed, failed, or cancelled.
func (m *Metrics) RecordTaskTerminal(status string) {
	m.TasksByTerminalStatus.WithLabelValues(status).Inc()
}

// RecordToolAggregation records one Aggregate call's total duration.
func (m *Metrics) RecordToolAggregation(durationSeconds float64) {
	m.ToolAggregationDuration.Observe(durationSeconds)
}

// RecordToolServerResult records one server's contribution to an
// aggregation round.
func (m *Metrics) RecordToolServerResult(server, outcome string) {
	m.ToolServerResult.WithLabelValues(server, outcome).Inc()
}

// RecordProjectSync records one project sync's transfer volume.
func (m *Metrics) RecordProjectSync(bytesDownloaded int64, downloaded, skipped, failed int) {
	m.ProjectSyncBytes.Add(float64(bytesDownloaded))
	if downloaded > 0 {
		m.ProjectSyncFiles.WithLabelValues("downloaded").Add(float64(downloaded))
	}
	if skipped > 0 {
		m.ProjectSyncFiles.WithLabelValues("skipped").Add(float64(skipped))
	}
	if failed > 0 {
		m.ProjectSyncFiles.WithLabelValues("failed").Add(float64(failed))
	}
}

// RecordSQLQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordSQLQuery("select", "tasks", time.Since(start).Seconds(), err)
func (m *Metrics) RecordSQLQuery(operation, table string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SQLQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.SQLQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("GET", "/projects/p1/tasks", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("dispatcher", "graph_invocation_failed")
//	metrics.RecordError("reaper", "stale_task_sweep_failed")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
