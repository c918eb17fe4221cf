// Package worker implements C4, the dispatch loop and streaming runtime
// described in spec.md §4.4: one prefetch=1 consumer per worker slot that
// early-acks a WorkItem, drives a project sync, tool aggregation and agent
// configuration fetch, invokes the reasoning graph, and turns its stream of
// node emissions into the task's final status and content.
//
// Grounded on internal/tasks/scheduler.go's poll loop and semaphore
// concurrency control, and internal/tasks/executor.go's streaming-chunk
// collection loop, retargeted from "run one scheduled job" onto "drive one
// queue lease through the reasoning-graph contract". Unlike the teacher's
// Scheduler, which owns job scheduling and retry policy itself, Dispatcher
// owns only the per-lease procedure; the work queue (internal/queue) owns
// leasing and redelivery.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/chicoryai/taskrunner/internal/agentconfig"
	"github.com/chicoryai/taskrunner/internal/backoff"
	"github.com/chicoryai/taskrunner/internal/graph"
	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/projectsync"
	"github.com/chicoryai/taskrunner/internal/queue"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
	"github.com/chicoryai/taskrunner/internal/toolserver"
)

// Config tunes the dispatch loop. Zero values are replaced with spec
// defaults by DefaultConfig / NewDispatcher.
type Config struct {
	// WorkerID identifies this dispatcher to the queue (spec.md §6's
	// worker-id-scoped lease).
	WorkerID string

	// MaxAge rejects messages older than this without requeue (spec.md
	// §4.4 step 1). Defaults to 1h.
	MaxAge time.Duration

	// RecursionLimit is the reasoning-graph recursion-depth budget passed
	// in config.configurable (spec.md §5: 50-150). Defaults to 100.
	RecursionLimit int

	// PollInterval is how long the loop sleeps after finding the queue
	// empty before acquiring again.
	PollInterval time.Duration

	// ReconnectPolicy governs backoff between AcquireNext calls that fail
	// with a recoverable, queue-level error (spec.md §4.4.4: 5s initial,
	// 1.5x factor, capped at 60s).
	ReconnectPolicy backoff.BackoffPolicy

	Logger *slog.Logger
}

// DefaultConfig returns spec-default tunables for a given worker id.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:       workerID,
		MaxAge:         time.Hour,
		RecursionLimit: 100,
		PollInterval:   time.Second,
		ReconnectPolicy: backoff.BackoffPolicy{
			InitialMs: 5000,
			MaxMs:     60000,
			Factor:    1.5,
			Jitter:    0,
		},
	}
}

func (c *Config) applyDefaults() {
	defaults := DefaultConfig(c.WorkerID)
	if c.MaxAge <= 0 {
		c.MaxAge = defaults.MaxAge
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = defaults.RecursionLimit
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ReconnectPolicy == (backoff.BackoffPolicy{}) {
		c.ReconnectPolicy = defaults.ReconnectPolicy
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "worker")
	}
}

// Dispatcher drives one queue consumer through the per-message procedure
// of spec.md §4.4. All dependencies are constructor-injected (spec.md §9's
// "ambient global clients → explicit dependencies" note) so tests can
// substitute in-memory or fake implementations of every collaborator.
type Dispatcher struct {
	Queue       queue.Queue
	Broker      *taskbroker.Broker
	Syncer      *projectsync.Syncer
	Aggregator  *toolserver.Aggregator
	Agents      agentconfig.Store
	Credentials *projectsync.CredentialResolver
	Graph       graph.Graph
	Metrics     *observability.Metrics
	Tracer      *observability.Tracer

	Config Config

	// now is overridden in tests to make the age check deterministic.
	now func() time.Time
}

// NewDispatcher builds a Dispatcher. cfg's zero fields are replaced with
// spec defaults.
func NewDispatcher(q queue.Queue, broker *taskbroker.Broker, syncer *projectsync.Syncer, aggregator *toolserver.Aggregator, agents agentconfig.Store, credentials *projectsync.CredentialResolver, g graph.Graph, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		Queue:       q,
		Broker:      broker,
		Syncer:      syncer,
		Aggregator:  aggregator,
		Agents:      agents,
		Credentials: credentials,
		Graph:       g,
		Config:      cfg,
		now:         time.Now,
	}
}

// recordTerminal is a no-op when Metrics is unset.
func (d *Dispatcher) recordTerminal(status string) {
	if d.Metrics != nil {
		d.Metrics.RecordTaskTerminal(status)
	}
}

// Run blocks, processing one lease at a time, until ctx is cancelled. A
// non-recoverable error acquiring from the queue is fatal and returned;
// everything else (a single message's processing failure) is logged and
// absorbed so the loop keeps serving subsequent messages.
func (d *Dispatcher) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lease, err := d.Queue.AcquireNext(ctx, d.Config.WorkerID)
		if err != nil {
			if !ClassifyError(err) {
				return fmt.Errorf("acquire next: %w", err)
			}
			attempt++
			d.Config.Logger.Warn("queue reconnect backoff", "attempt", attempt, "error", err)
			if serr := backoff.SleepWithBackoff(ctx, d.Config.ReconnectPolicy, attempt); serr != nil {
				return serr
			}
			continue
		}
		attempt = 0

		if lease == nil {
			if serr := backoff.SleepWithContext(ctx, d.Config.PollInterval); serr != nil {
				return serr
			}
			continue
		}

		d.handleLease(ctx, lease)
	}
}

// handleLease implements spec.md §4.4 steps 1-2 (age check, early ack) and
// hands the rest of the procedure to process.
func (d *Dispatcher) handleLease(ctx context.Context, lease *queue.Lease) {
	item := lease.WorkItem
	logger := d.Config.Logger.With(
		"project_id", item.ProjectID,
		"agent_id", item.AgentID,
		"assistant_task_id", item.AssistantTaskID,
	)

	if d.Tracer != nil {
		var span trace.Span
		ctx, span = d.Tracer.TraceDispatchIteration(ctx, d.Config.WorkerID, item.AssistantTaskID)
		defer span.End()
	}

	age := d.now().Sub(item.Timestamp)
	if age > d.Config.MaxAge {
		logger.Warn("rejecting stale message", "age", age, "max_age", d.Config.MaxAge)
		if err := d.Queue.Complete(ctx, lease.LeaseID); err != nil {
			logger.Error("failed to tombstone stale message", "error", err)
		}
		return
	}

	// Early ack: remove the message from the queue before any business
	// logic runs, so a worker crash mid-stream never causes redelivery
	// (spec.md §4.4 step 2).
	if err := d.Queue.Complete(ctx, lease.LeaseID); err != nil {
		logger.Error("early ack failed", "error", err)
		return
	}

	if err := d.process(ctx, item, logger); err != nil {
		d.markFailed(ctx, item, err, logger)
	}
}

// process implements spec.md §4.4 steps 3-9. Returned errors are genuine
// exceptions (sync/aggregation/config-fetch/graph-invocation failures);
// normal terminal outcomes (completed, cancelled, empty-generation failed)
// are persisted inline and reported via a nil return.
func (d *Dispatcher) process(ctx context.Context, item queue.WorkItem, logger *slog.Logger) error {
	// Step 3: initial status updates.
	d.updateTask(ctx, item.ProjectID, item.AgentID, item.TaskID, completedStatusPtr(), nil, logger)
	gathering := taskbroker.MarshalAssistantContent(model.AssistantContent{Response: "Gathering Context"})
	d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, processingStatusPtr(), &gathering, logger)

	// Step 4: project sync.
	if _, err := d.Syncer.Sync(ctx, item.ProjectID); err != nil {
		return fmt.Errorf("project sync: %w", err)
	}

	// Step 5: tool aggregation, scoped by override_project_id when present.
	toolProjectID := item.ProjectID
	if item.Metadata.OverrideProjectID != "" {
		toolProjectID = item.Metadata.OverrideProjectID
	}

	// Step 6: agent configuration fetch.
	agent, err := d.Agents.Get(ctx, item.ProjectID, item.AgentID)
	if err != nil {
		return fmt.Errorf("fetch agent configuration: %w", err)
	}

	if _, err := d.Aggregator.Aggregate(ctx, toolProjectID, agent.Tools); err != nil {
		return fmt.Errorf("tool aggregation: %w", err)
	}

	env, err := d.Credentials.Resolve(ctx, item.ProjectID, agent.EnvVariables)
	if err != nil {
		return fmt.Errorf("resolve credentials: %w", err)
	}

	// Step 7: reasoning graph invocation.
	inputs := graph.Inputs{
		Question:     item.Content,
		ContextFlag:  true,
		Context:      agent.Description,
		OutputFormat: string(agent.OutputFormat),
	}
	cfg := graph.Config{
		RecursionLimit: d.Config.RecursionLimit,
		Configurable: graph.Configurable{
			ThreadID:          item.Metadata.ThreadID,
			AssistantTaskID:   item.AssistantTaskID,
			Project:           item.ProjectID,
			EnvVariables:      env,
			OverrideProjectID: item.Metadata.OverrideProjectID,
			CheckpointNS:      item.Metadata.CheckpointNS,
			CheckpointID:      item.Metadata.CheckpointID,
		},
	}

	cancelled := d.cancellationCheck(item.ProjectID, item.AgentID, item.AssistantTaskID)
	if cancelled(ctx) {
		d.persistCancelled(ctx, item, logger)
		return nil
	}

	events, err := d.Graph.Stream(ctx, inputs, cfg, cancelled)
	if err != nil {
		return fmt.Errorf("invoke reasoning graph: %w", err)
	}

	// Steps 8-9: streaming update loop + terminal classification.
	history := make(map[graph.NodeKind]any)
	for event := range events {
		if cancelled(ctx) {
			d.persistCancelled(ctx, item, logger)
			return nil
		}
		history[event.Node] = event.Payload

		status := displayStatus(event.Node)
		content := taskbroker.MarshalAssistantContent(model.AssistantContent{Response: status})
		d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, processingStatusPtr(), &content, logger)
	}

	d.classifyTerminal(ctx, item, history, logger)
	return nil
}

// classifyTerminal implements spec.md §4.4.3, run once the stream channel
// has closed.
func (d *Dispatcher) classifyTerminal(ctx context.Context, item queue.WorkItem, history map[graph.NodeKind]any, logger *slog.Logger) {
	response := extractResponse(history)

	if responseIndicatesCancelled(response) {
		d.persistCancelled(ctx, item, logger)
		return
	}

	if response != "" {
		// Cancel re-check immediately before any COMPLETED write (spec.md
		// §4.4.1's ordering guarantee).
		if d.cancellationCheck(item.ProjectID, item.AgentID, item.AssistantTaskID)(ctx) {
			d.persistCancelled(ctx, item, logger)
			return
		}
		content := taskbroker.MarshalAssistantContent(model.AssistantContent{Response: response})
		d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, completedStatusPtr(), &content, logger)
		d.recordTerminal("completed")
		return
	}

	// Empty response: a cancellation that raced the stream close wins;
	// otherwise this is a genuine failure to generate.
	current, err := d.Broker.GetTaskStatus(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID)
	if err == nil && current != nil && current.Status == model.StatusCancelled {
		return
	}
	content := taskbroker.MarshalAssistantContent(model.AssistantContent{
		Response: model.FailedMessage,
		Error:    true,
	})
	d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, failedStatusPtr(), &content, logger)
	d.recordTerminal("failed")
}

// persistCancelled writes the canonical cancellation content (spec.md
// §4.4.1). It never marks the task FAILED even if the stream ended in
// error, per the ordering guarantee.
func (d *Dispatcher) persistCancelled(ctx context.Context, item queue.WorkItem, logger *slog.Logger) {
	content := taskbroker.MarshalAssistantContent(model.AssistantContent{
		Response:  model.CancelledMessage,
		Cancelled: true,
	})
	d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, cancelledStatusPtr(), &content, logger)
	d.recordTerminal("cancelled")
}

// markFailed implements the non-recoverable branch of spec.md §4.4.4: the
// message has already been acked, so the only remaining action is to
// persist the failure onto the assistant task.
func (d *Dispatcher) markFailed(ctx context.Context, item queue.WorkItem, cause error, logger *slog.Logger) {
	logger.Error("message processing failed", "error", cause)
	content := taskbroker.MarshalAssistantContent(model.AssistantContent{
		Response:     fmt.Sprintf("Error processing message: %v", cause),
		Error:        true,
		ErrorDetails: cause.Error(),
	})
	d.updateTask(ctx, item.ProjectID, item.AgentID, item.AssistantTaskID, failedStatusPtr(), &content, logger)
	d.recordTerminal("failed")
}

// cancellationCheck builds the shared callback of spec.md §4.4.1, closing
// over the task identity and polling the broker for its current status.
func (d *Dispatcher) cancellationCheck(projectID, agentID, taskID string) graph.CancellationCheck {
	return func(ctx context.Context) bool {
		task, err := d.Broker.GetTaskStatus(ctx, projectID, agentID, taskID)
		if err != nil || task == nil {
			return false
		}
		return task.Status == model.StatusCancelled
	}
}

func (d *Dispatcher) updateTask(ctx context.Context, projectID, agentID, taskID string, status *model.Status, content *string, logger *slog.Logger) {
	if _, err := d.Broker.UpdateTask(ctx, projectID, agentID, taskID, taskbroker.TaskUpdate{Status: status, Content: content}); err != nil {
		logger.Error("update task failed", "task_id", taskID, "error", err)
	}
}

func completedStatusPtr() *model.Status  { s := model.StatusCompleted; return &s }
func processingStatusPtr() *model.Status { s := model.StatusProcessing; return &s }
func cancelledStatusPtr() *model.Status  { s := model.StatusCancelled; return &s }
func failedStatusPtr() *model.Status     { s := model.StatusFailed; return &s }
