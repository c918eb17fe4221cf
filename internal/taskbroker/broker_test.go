package taskbroker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/queue"
)

func newTestBroker(t *testing.T) (*Broker, *MemoryStore, queue.Queue) {
	t.Helper()
	store := NewMemoryStore()
	q := queue.NewMemoryQueue()
	return New(store, q), store, q
}

// P-1: every create_message call produces exactly one user task (COMPLETED)
// paired with exactly one assistant task (QUEUED), sharing a PairKey.
func TestBroker_CreateMessage_Pairing(t *testing.T) {
	ctx := context.Background()
	b, _, q := newTestBroker(t)

	user, assistant, err := b.CreateMessage(ctx, "proj1", "agent1", "hello", model.Metadata{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if user.Status != model.StatusCompleted {
		t.Errorf("user.Status = %s, want completed", user.Status)
	}
	if assistant.Status != model.StatusQueued {
		t.Errorf("assistant.Status = %s, want queued", assistant.Status)
	}
	if user.PairKey != assistant.PairKey {
		t.Errorf("pair keys differ: %s != %s", user.PairKey, assistant.PairKey)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("queue depth = %d, %v; want 1", depth, err)
	}
}

// P-4: once a task reaches a terminal state, further status updates are
// no-ops.
func TestBroker_UpdateTask_TerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	_, assistant, err := b.CreateMessage(ctx, "proj1", "agent1", "hi", model.Metadata{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	completed := model.StatusCompleted
	if _, err := b.UpdateTask(ctx, "proj1", "agent1", assistant.ID, TaskUpdate{Status: &completed}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	processing := model.StatusProcessing
	updated, err := b.UpdateTask(ctx, "proj1", "agent1", assistant.ID, TaskUpdate{Status: &processing})
	if err != nil {
		t.Fatalf("UpdateTask after terminal: %v", err)
	}
	if updated.Status != model.StatusCompleted {
		t.Errorf("status after no-op update = %s, want completed unchanged", updated.Status)
	}
}

// P-3 / T-3: CANCELLED dominates a later COMPLETED write from a worker that
// had not yet observed the cancellation.
func TestBroker_CancelTask_DominatesLateCompletion(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	_, assistant, err := b.CreateMessage(ctx, "proj1", "agent1", "hi", model.Metadata{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if _, err := b.CancelTask(ctx, "proj1", "agent1", assistant.ID); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}

	completed := model.StatusCompleted
	content := "late completion content"
	updated, err := b.UpdateTask(ctx, "proj1", "agent1", assistant.ID, TaskUpdate{Status: &completed, Content: &content})
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if updated.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled to dominate", updated.Status)
	}

	var parsed model.AssistantContent
	if err := json.Unmarshal([]byte(updated.Content), &parsed); err == nil {
		if !parsed.Cancelled {
			t.Errorf("cancelled content overwritten by late completion: %+v", parsed)
		}
	}
}

// P-5: applying the identical cancel twice yields the same record
// (idempotent re-cancel).
func TestBroker_CancelTask_Idempotent(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	_, assistant, err := b.CreateMessage(ctx, "proj1", "agent1", "hi", model.Metadata{})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	first, err := b.CancelTask(ctx, "proj1", "agent1", assistant.ID)
	if err != nil {
		t.Fatalf("first CancelTask: %v", err)
	}
	second, err := b.CancelTask(ctx, "proj1", "agent1", assistant.ID)
	if err != nil {
		t.Fatalf("second CancelTask: %v", err)
	}
	if first.Status != second.Status {
		t.Errorf("status changed across idempotent cancels: %s != %s", first.Status, second.Status)
	}
}

// Publish failure must mark the assistant task FAILED rather than leaving
// it dangling in QUEUED.
func TestBroker_CreateMessage_PublishFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	b := New(store, &failingQueue{})

	_, assistant, err := b.CreateMessage(ctx, "proj1", "agent1", "hi", model.Metadata{})
	if err == nil {
		t.Fatal("expected CreateMessage to surface the publish error")
	}
	if assistant.Status != model.StatusFailed {
		t.Errorf("assistant.Status = %s, want failed", assistant.Status)
	}

	persisted, err := store.GetTask(ctx, "proj1", "agent1", assistant.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if persisted.Status != model.StatusFailed {
		t.Errorf("persisted status = %s, want failed", persisted.Status)
	}
}

func TestBroker_ListAgentTasks_NewestFirstAndLimit(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBroker(t)
	for i := 0; i < 3; i++ {
		if _, _, err := b.CreateMessage(ctx, "proj1", "agent1", "msg", model.Metadata{}); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	tasks, err := b.ListAgentTasks(ctx, "proj1", "agent1", ListOptions{Limit: 2, NewestFirst: true})
	if err != nil {
		t.Fatalf("ListAgentTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len(tasks) = %d, want 2", len(tasks))
	}
}

type failingQueue struct{}

func (f *failingQueue) Publish(ctx context.Context, item queue.WorkItem) error {
	return errors.New("broker unavailable")
}
func (f *failingQueue) AcquireNext(ctx context.Context, workerID string) (*queue.Lease, error) {
	return nil, nil
}
func (f *failingQueue) Requeue(ctx context.Context, leaseID string) error { return nil }
func (f *failingQueue) Complete(ctx context.Context, leaseID string) error { return nil }
func (f *failingQueue) Depth(ctx context.Context) (int, error)             { return 0, nil }
func (f *failingQueue) Close() error                                       { return nil }
