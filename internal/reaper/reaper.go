// Package reaper implements spec.md §9's periodic sweep for assistant
// tasks stuck in PROCESSING: a worker that crashes or loses its
// connection mid-dispatch leaves its task unable to transition on its
// own, so the reaper marks anything older than a configured staleness
// window FAILED.
//
// Shaped like a small scheduled job: a Config struct with sane defaults,
// a Logger field, and Start/Stop lifecycle methods, but simplified to
// one job on one schedule rather than arbitrary per-task cron/every/at
// schedules with distributed locking across many concurrent jobs — so
// it is built directly on robfig/cron/v3's own Cron scheduler rather
// than reimplementing a poll loop.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Config configures the reaper sweep.
type Config struct {
	// Schedule is a cron expression (5-field, or 6-field with a leading
	// seconds field, or a @every/@daily style descriptor).
	Schedule string
	// StaleAfter is how long an assistant task may sit in PROCESSING
	// before the reaper considers it abandoned.
	StaleAfter time.Duration
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Reaper periodically sweeps the task store for stale PROCESSING tasks
// and marks them FAILED.
type Reaper struct {
	broker *taskbroker.Broker
	store  taskbroker.Store
	cfg    Config
	logger *slog.Logger
	cron   *cron.Cron
}

// New builds a Reaper. store is the same Store the broker is backed by —
// ListStaleProcessing is a read-only query the broker itself doesn't
// expose, so the reaper talks to the store directly for the sweep and to
// the broker for the actual UpdateTask write, keeping transition
// enforcement (ApplyTransition/TransitionBlocked) in one place.
func New(broker *taskbroker.Broker, store taskbroker.Store, cfg Config) *Reaper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &Reaper{
		broker: broker,
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Start validates the configured schedule and begins running sweeps in
// the background. Stop must be called to release the cron goroutine.
func (r *Reaper) Start(ctx context.Context) error {
	if _, err := cronParser.Parse(r.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid reaper schedule %q: %w", r.cfg.Schedule, err)
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(r.cfg.Schedule, func() {
		r.sweep(ctx)
	}); err != nil {
		return fmt.Errorf("schedule reaper sweep: %w", err)
	}
	r.cron = c
	c.Start()
	r.logger.Info("reaper started", "schedule", r.cfg.Schedule, "stale_after", r.cfg.StaleAfter)
	return nil
}

// Stop waits for any in-flight sweep to finish and halts scheduling.
func (r *Reaper) Stop(ctx context.Context) error {
	if r.cron == nil {
		return nil
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep runs one reaping pass; errors are logged, not returned, since
// cron's AddFunc callback has no error channel and a failed sweep should
// not stop the schedule from trying again next tick.
func (r *Reaper) sweep(ctx context.Context) {
	stale, err := r.store.ListStaleProcessing(ctx, r.cfg.StaleAfter)
	if err != nil {
		r.logger.Error("reaper: list stale processing tasks failed", "error", err)
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordError("reaper", "list_stale_failed")
		}
		return
	}
	if len(stale) == 0 {
		return
	}
	r.logger.Info("reaper: found stale tasks", "count", len(stale))

	failed := model.StatusFailed
	for _, task := range stale {
		content := taskbroker.MarshalAssistantContent(model.AssistantContent{
			Response:     model.FailedMessage,
			Error:        true,
			ErrorDetails: fmt.Sprintf("reaped: stuck in processing longer than %s", r.cfg.StaleAfter),
		})
		_, err := r.broker.UpdateTask(ctx, task.ProjectID, task.AgentID, task.ID, taskbroker.TaskUpdate{
			Status:  &failed,
			Content: &content,
		})
		if err != nil {
			r.logger.Error("reaper: failed to mark task failed", "task_id", task.ID, "error", err)
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordError("reaper", "update_failed")
			}
			continue
		}
		r.logger.Warn("reaper: marked stale task failed", "task_id", task.ID, "project_id", task.ProjectID, "agent_id", task.AgentID)
	}
}
