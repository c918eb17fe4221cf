// Package taskbroker implements C3, the task broker described in spec.md
// §4.3: creating paired user/assistant task records, publishing work items,
// and serving status/history reads — the durable ledger the worker
// (internal/worker) and the HTTP surface (internal/httpapi) both sit on
// top of.
//
// Grounded on the teacher's internal/tasks package: Store is the same
// shape as tasks.Store (CRUD + a ListXxxOptions struct per list call), and
// CockroachStore below reuses tasks/cockroach.go's database/sql + lib/pq
// plumbing almost verbatim, retargeted at the Task/Status types in
// internal/model instead of ScheduledTask/TaskExecution.
package taskbroker

import (
	"context"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
)

// ListOptions configures ListAgentTasks (spec.md §4.3).
type ListOptions struct {
	Limit        int
	StatusFilter model.Status
	NewestFirst  bool
}

// DefaultListOptions matches spec.md §4.3's "default newest-first, capped
// at ~50".
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, NewestFirst: true}
}

// Store is the persistence contract for tasks. Implementations must
// enforce the state machine in spec.md §4.3 themselves (see
// ApplyTransition) so that every backend gives the same P-3/P-4/P-5
// guarantees regardless of storage engine.
type Store interface {
	// CreatePair atomically inserts a user task (already COMPLETED) and
	// its paired assistant task (QUEUED), returning both.
	CreatePair(ctx context.Context, userTask, assistantTask *model.Task) error

	// GetTask fetches a single task by (projectID, agentID, taskID).
	GetTask(ctx context.Context, projectID, agentID, taskID string) (*model.Task, error)

	// UpdateTask applies status/content changes to an existing task,
	// enforcing the T-2/T-3/P-3/P-4 transition rules, and returns the
	// task as persisted (which may be unchanged from before the call, per
	// P-4's no-op requirement).
	UpdateTask(ctx context.Context, projectID, agentID, taskID string, update TaskUpdate) (*model.Task, error)

	// ListAgentTasks returns bounded task history for one agent.
	ListAgentTasks(ctx context.Context, projectID, agentID string, opts ListOptions) ([]*model.Task, error)

	// ListStaleProcessing returns assistant tasks stuck in PROCESSING
	// older than olderThan — the reaper predicate spec.md §9 asks the
	// broker to expose.
	ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*model.Task, error)

	// DeleteProject cascades deletion of all tasks owned by a project
	// (spec.md §3 "Ownership").
	DeleteProject(ctx context.Context, projectID string) error

	Close() error
}

// TaskUpdate is the optional status/content patch from spec.md §4.3's
// update_task operation: `{status?, content?}`.
type TaskUpdate struct {
	Status  *model.Status
	Content *string
}
