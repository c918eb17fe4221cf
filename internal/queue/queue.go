// Package queue implements the durable work queue described in spec.md §6:
// one WorkItem per assistant task, leased to exactly one worker at a time.
//
// Nexus, the teacher repo, has no message-broker client anywhere in its
// dependency graph; what it does have is exactly this leasing pattern,
// used for distributed execution locking in internal/tasks.CockroachStore
// (SELECT ... FOR UPDATE SKIP LOCKED). That mechanism is reused here,
// unmodified in spirit, as the "durable exchange + durable queue" the spec
// calls for: a Postgres table is both simpler to operate than standing up
// a broker and gives the exact at-most-one-lease guarantee (P-2) the spec
// requires, for free, from row-level locking.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
)

// Action is the work-item action tag from the wire format. Only one value
// is defined today; the field exists so the format can grow.
type Action string

// ActionProcessAgentTask is the only Action produced by the broker today.
const ActionProcessAgentTask Action = "process_agent_task"

// WorkItem is one message on the work queue, matching spec.md §6's wire
// format exactly. Its lifetime ends at lease acquisition (the "early-ack"
// in spec.md §4.4's step 2 corresponds to AcquireNext below, not to a
// separate acknowledgement call).
type WorkItem struct {
	TaskID           string         `json:"task_id"`
	AssistantTaskID  string         `json:"assistant_task_id"`
	ProjectID        string         `json:"project_id"`
	AgentID          string         `json:"agent_id"`
	Content          string         `json:"content"`
	Metadata         model.Metadata `json:"metadata"`
	Timestamp        time.Time      `json:"timestamp"`
	Action           Action         `json:"action"`
}

// Lease wraps a WorkItem with queue bookkeeping a worker needs to requeue
// or abandon it.
type Lease struct {
	WorkItem
	LeaseID        string
	Attempt        int
	ExcludeRunners []string
}

// Queue is the durable work-queue contract. Implementations must guarantee
// that at no instant do two callers hold an unleased-back WorkItem for the
// same AssistantTaskID (P-2).
type Queue interface {
	// Publish durably enqueues item. Publication failure must be visible
	// to the caller so the broker can roll back or mark the task FAILED
	// per spec.md §4.3's create_message contract.
	Publish(ctx context.Context, item WorkItem) error

	// AcquireNext leases the oldest unleased item with prefetch=1
	// semantics: a worker holds at most one lease at a time by calling
	// this once per dispatch-loop iteration. Returns (nil, nil) when the
	// queue is empty.
	AcquireNext(ctx context.Context, workerID string) (*Lease, error)

	// Requeue releases a lease so another worker may acquire the item,
	// used only for pre-acquisition transport failures per spec.md
	// §4.4.4's recoverable-error path.
	Requeue(ctx context.Context, leaseID string) error

	// Complete permanently removes a leased item after the worker has
	// finished processing it (successfully or not — completion here only
	// means "stop redelivering", not "succeeded").
	Complete(ctx context.Context, leaseID string) error

	// Depth reports the number of unleased items, used for the queue-depth
	// metric.
	Depth(ctx context.Context) (int, error)

	Close() error
}

func marshalMetadata(m model.Metadata) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (model.Metadata, error) {
	var m model.Metadata
	if len(data) == 0 {
		return m, nil
	}
	err := json.Unmarshal(data, &m)
	return m, err
}
