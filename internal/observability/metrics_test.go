package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics builds a Metrics instance registered against an isolated
// registry rather than the process-global default, so tests can run
// concurrently without "duplicate metrics collector registration" panics.
func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := &Metrics{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue_depth"}),
		LeaseLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_lease_latency_seconds", Buckets: []float64{1, 5, 30},
		}),
		TasksByTerminalStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_tasks_terminal_total"}, []string{"status"}),
		ToolAggregationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "test_tool_aggregation_duration_seconds", Buckets: []float64{0.1, 1, 5},
		}),
		ToolServerResult: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_tool_server_results_total"}, []string{"server", "outcome"}),
		ProjectSyncBytes: prometheus.NewCounter(prometheus.CounterOpts{Name: "test_project_sync_bytes_total"}),
		ProjectSyncFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_project_sync_files_total"}, []string{"outcome"}),
		SQLQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_sql_query_duration_seconds", Buckets: []float64{0.01, 0.1, 1}},
			[]string{"operation", "table"}),
		SQLQueryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_sql_queries_total"}, []string{"operation", "table", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_http_request_duration_seconds", Buckets: []float64{0.01, 0.1, 1}},
			[]string{"method", "path", "status_code"}),
		HTTPRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_http_requests_total"}, []string{"method", "path", "status_code"}),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_errors_total"}, []string{"component", "error_type"}),
	}
	reg.MustRegister(m.QueueDepth, m.LeaseLatency, m.TasksByTerminalStatus, m.ToolAggregationDuration,
		m.ToolServerResult, m.ProjectSyncBytes, m.ProjectSyncFiles, m.SQLQueryDuration, m.SQLQueryCounter,
		m.HTTPRequestDuration, m.HTTPRequestCounter, m.ErrorCounter)
	return m
}

func TestSetQueueDepth(t *testing.T) {
	m := newTestMetrics(t)
	m.SetQueueDepth(7)
	if got := testutil.ToFloat64(m.QueueDepth); got != 7 {
		t.Errorf("expected queue depth 7, got %v", got)
	}
}

func TestRecordLeaseAcquired(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordLeaseAcquired(2.5)
	if count := testutil.CollectAndCount(m.LeaseLatency); count != 1 {
		t.Errorf("expected 1 observation, got %d", count)
	}
}

func TestRecordTaskTerminal(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordTaskTerminal("completed")
	m.RecordTaskTerminal("completed")
	m.RecordTaskTerminal("failed")

	if got := testutil.ToFloat64(m.TasksByTerminalStatus.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected 2 completed tasks, got %v", got)
	}
	if got := testutil.ToFloat64(m.TasksByTerminalStatus.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed task, got %v", got)
	}
}

func TestRecordToolAggregation(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolAggregation(0.42)
	if count := testutil.CollectAndCount(m.ToolAggregationDuration); count != 1 {
		t.Errorf("expected 1 observation, got %d", count)
	}
}

func TestRecordToolServerResult(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolServerResult("github", "success")
	m.RecordToolServerResult("github", "failure")
	m.RecordToolServerResult("github", "failure")

	if got := testutil.ToFloat64(m.ToolServerResult.WithLabelValues("github", "failure")); got != 2 {
		t.Errorf("expected 2 failures, got %v", got)
	}
}

func TestRecordProjectSync(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordProjectSync(1024, 3, 1, 0)

	if got := testutil.ToFloat64(m.ProjectSyncBytes); got != 1024 {
		t.Errorf("expected 1024 bytes, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProjectSyncFiles.WithLabelValues("downloaded")); got != 3 {
		t.Errorf("expected 3 downloaded, got %v", got)
	}
	if got := testutil.ToFloat64(m.ProjectSyncFiles.WithLabelValues("skipped")); got != 1 {
		t.Errorf("expected 1 skipped, got %v", got)
	}
	// failed label is never touched when count is zero.
	if got := testutil.ToFloat64(m.ProjectSyncFiles.WithLabelValues("failed")); got != 0 {
		t.Errorf("expected 0 failed, got %v", got)
	}
}

func TestRecordSQLQuery(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordSQLQuery("select", "tasks", 0.01, nil)
	m.RecordSQLQuery("insert", "tasks", 0.02, errors.New("boom"))

	if got := testutil.ToFloat64(m.SQLQueryCounter.WithLabelValues("select", "tasks", "success")); got != 1 {
		t.Errorf("expected 1 successful select, got %v", got)
	}
	if got := testutil.ToFloat64(m.SQLQueryCounter.WithLabelValues("insert", "tasks", "error")); got != 1 {
		t.Errorf("expected 1 errored insert, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordHTTPRequest("GET", "/projects/p1/tasks", "200", 0.05)

	if got := testutil.ToFloat64(m.HTTPRequestCounter.WithLabelValues("GET", "/projects/p1/tasks", "200")); got != 1 {
		t.Errorf("expected 1 request recorded, got %v", got)
	}
}

func TestMetricsRecordError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordError("dispatcher", "graph_invocation_failed")
	m.RecordError("dispatcher", "graph_invocation_failed")

	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("dispatcher", "graph_invocation_failed")); got != 2 {
		t.Errorf("expected 2 errors recorded, got %v", got)
	}
}
