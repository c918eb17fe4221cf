// Package observability provides comprehensive monitoring and debugging capabilities
// for the taskrunner platform through metrics, structured logging, and distributed tracing.
//
// # Overview
//
// The observability package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: Minimal performance impact on production systems
//   - Type-safe: Strongly-typed APIs reduce configuration errors
//   - Production-ready: Built-in security (redaction) and reliability features
//   - Standards-based: Uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Work-queue depth and lease latency
//   - Tasks reaching a terminal status (completed|failed|cancelled)
//   - Tool-server aggregation latency and per-server success/failure
//   - Project-sync transfer volume (bytes and files)
//   - SQL query latency
//   - HTTP request/response metrics
//   - Error rates by component and type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	// Track queue depth (worker polls queue.Queue.Depth)
//	metrics.SetQueueDepth(depth)
//
//	// Track lease acquisition latency
//	metrics.RecordLeaseAcquired(time.Since(item.Timestamp).Seconds())
//
//	// Track tool-server aggregation
//	start := time.Now()
//	// ... fan out to tool servers ...
//	metrics.RecordToolAggregation(time.Since(start).Seconds())
//
// # Logging
//
// Logging returns a standard *slog.Logger, built on Go's slog package with
// a handler that adds:
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//   - Automatic request-ID correlation via context.Context
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	// Structured logging, same call shape as the stdlib slog.Logger
//	logger.Info("processing task",
//	    "project_id", projectID,
//	    "agent_id", agentID,
//	)
//
//	// Error logging with automatic redaction
//	logger.Error("credential resolution failed",
//	    "error", err,
//	    "provider", "github",
//	    "access_token", token, // automatically redacted
//	)
//
//	// Request-scoped logging picks up the correlation ID automatically
//	ctx := observability.WithRequestID(ctx, requestID)
//	logger.InfoContext(ctx, "dispatching task", "task_id", taskID)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track requests across components:
//   - End-to-end request visualization
//   - Performance bottleneck identification
//   - Service dependency mapping
//   - Error correlation across services
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "taskrunner",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	// Trace one dispatch-loop iteration
//	ctx, span := tracer.TraceDispatchIteration(ctx, workerID, taskID)
//	defer span.End()
//
//	// Trace tool-server aggregation fan-out
//	ctx, aggSpan := tracer.TraceToolAggregation(ctx, projectID)
//	defer aggSpan.End()
//
//	// Trace the streaming graph invocation
//	ctx, graphSpan := tracer.TraceGraphInvocation(ctx, "anthropic")
//	defer graphSpan.End()
//	if err != nil {
//	    tracer.RecordError(graphSpan, err)
//	}
//
// # Context Propagation
//
// Tracing integrates with Go's context to propagate spans to children:
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Integration Example
//
// Complete example integrating all three components around one dispatch:
//
//	func (d *Dispatcher) runTask(ctx context.Context, task *model.Task) error {
//	    ctx, span := tracer.TraceDispatchIteration(ctx, d.Config.WorkerID, task.ID)
//	    defer span.End()
//
//	    start := time.Now()
//	    err := d.graph.Invoke(ctx, task)
//	    duration := time.Since(start).Seconds()
//
//	    if err != nil {
//	        metrics.RecordError("dispatcher", "graph_invoke_failed")
//	        tracer.RecordError(span, err)
//	        logger.Error("task dispatch failed", "task_id", task.ID, "error", err)
//	        return err
//	    }
//
//	    metrics.RecordTaskTerminal("completed")
//	    logger.Info("task dispatch completed",
//	        "task_id", task.ID,
//	        "duration_ms", duration*1000)
//	    return nil
//	}
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Performance
//
// The observability system is designed for minimal overhead:
//   - Metrics use lock-free counters where possible
//   - Logging with slog is highly efficient
//   - Tracing supports sampling to reduce overhead
//   - Context propagation is zero-allocation in most cases
//
// Typical overhead:
//   - Metrics: <1% CPU, ~10KB memory per metric
//   - Logging: ~1-5μs per log call
//   - Tracing: ~2-10μs per span (when sampled)
//
// # Configuration
//
// All components support configuration via structs:
//
//	// Metrics - no configuration needed, auto-registered
//	metrics := observability.NewMetrics()
//
//	// Logging - configurable output, level, format
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:          os.Getenv("LOG_LEVEL"),
//	    Format:         "json",
//	    AddSource:      true,
//	    RedactPatterns: []string{`custom-secret-\d+`},
//	})
//
//	// Tracing - configurable sampling, endpoint, attributes
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "taskrunner",
//	    ServiceVersion: version,
//	    Environment:    env,
//	    Endpoint:       os.Getenv("OTEL_ENDPOINT"),
//	    SamplingRate:   0.1,
//	    Attributes: map[string]string{
//	        "deployment.region": region,
//	        "deployment.cluster": cluster,
//	    },
//	})
//	defer shutdown(context.Background())
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil against an isolated registry
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Set appropriate sampling rates for high-traffic systems
//  6. Add relevant attributes to spans for debugging
//  7. Use typed metric labels (avoid high-cardinality values)
//  8. Call shutdown() on tracer during graceful shutdown
//
// # Monitoring Dashboard
//
// The metrics exposed can be used to build dashboards:
//
//	# Queue depth
//	taskrunner_queue_depth
//
//	# Lease latency (95th percentile)
//	histogram_quantile(0.95, rate(taskrunner_queue_lease_latency_seconds_bucket[5m]))
//
//	# Task terminal-status mix
//	rate(taskrunner_tasks_terminal_total[5m])
//
//	# Error rate
//	rate(taskrunner_errors_total[5m])
//
//	# Tool aggregation latency
//	rate(taskrunner_tool_aggregation_duration_seconds_sum[5m]) /
//	rate(taskrunner_tool_aggregation_duration_seconds_count[5m])
//
// # Alerting
//
// Recommended alerts based on metrics:
//   - High error rate: taskrunner_errors_total > threshold
//   - Growing queue depth: taskrunner_queue_depth trending up with no drain
//   - High lease latency: p95 taskrunner_queue_lease_latency_seconds > threshold
//   - Tool server degradation: rate of taskrunner_tool_server_results_total{outcome="failure"} rising
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
