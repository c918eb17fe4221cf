package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/queue"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
)

func TestSweepMarksStaleTaskFailed(t *testing.T) {
	store := taskbroker.NewMemoryStore()
	broker := taskbroker.New(store, queue.NewMemoryQueue())
	ctx := context.Background()

	updatedAt := time.Now().Add(-time.Hour)
	user := &model.Task{ID: "user-1", ProjectID: "proj-1", AgentID: "agent-1", Role: model.RoleUser, Status: model.StatusCompleted, PairKey: "pair-1", UpdatedAt: updatedAt}
	assistant := &model.Task{ID: "assistant-1", ProjectID: "proj-1", AgentID: "agent-1", Role: model.RoleAssistant, Status: model.StatusProcessing, PairKey: "pair-1", UpdatedAt: updatedAt}
	if err := store.CreatePair(ctx, user, assistant); err != nil {
		t.Fatalf("CreatePair() error = %v", err)
	}

	r := New(broker, store, Config{Schedule: "@every 1h", StaleAfter: time.Minute})
	r.sweep(ctx)

	got, err := broker.GetTaskStatus(ctx, "proj-1", "agent-1", "assistant-1")
	if err != nil {
		t.Fatalf("GetTaskStatus() error = %v", err)
	}
	if got.Status != model.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
}

func TestSweepLeavesFreshTasksAlone(t *testing.T) {
	store := taskbroker.NewMemoryStore()
	broker := taskbroker.New(store, queue.NewMemoryQueue())
	ctx := context.Background()

	now := time.Now()
	user := &model.Task{ID: "user-1", ProjectID: "proj-1", AgentID: "agent-1", Role: model.RoleUser, Status: model.StatusCompleted, PairKey: "pair-1", UpdatedAt: now}
	assistant := &model.Task{ID: "assistant-1", ProjectID: "proj-1", AgentID: "agent-1", Role: model.RoleAssistant, Status: model.StatusProcessing, PairKey: "pair-1", UpdatedAt: now}
	if err := store.CreatePair(ctx, user, assistant); err != nil {
		t.Fatalf("CreatePair() error = %v", err)
	}

	r := New(broker, store, Config{Schedule: "@every 1h", StaleAfter: time.Hour})
	r.sweep(ctx)

	got, err := broker.GetTaskStatus(ctx, "proj-1", "agent-1", "assistant-1")
	if err != nil {
		t.Fatalf("GetTaskStatus() error = %v", err)
	}
	if got.Status != model.StatusProcessing {
		t.Fatalf("expected still PROCESSING, got %s", got.Status)
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	store := taskbroker.NewMemoryStore()
	broker := taskbroker.New(store, queue.NewMemoryQueue())

	r := New(broker, store, Config{Schedule: "not a schedule"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}
