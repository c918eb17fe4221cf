package agentconfig

import (
	"context"
	"testing"

	"github.com/chicoryai/taskrunner/internal/model"
)

func newTestAgent(projectID, id string) *model.Agent {
	return &model.Agent{
		ID:           id,
		ProjectID:    projectID,
		Name:         "support-bot",
		Description:  "answers support questions",
		Instructions: "You are a helpful support agent.",
		OutputFormat: model.OutputFormatMarkdown,
		Tools: []model.AgentTool{
			{ToolType: model.AgentToolMCP, ServerURL: "https://tools.example.com/mcp", Name: "search"},
		},
		EnvVariables: map[string]string{"REGION": "us-east-1"},
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agent := newTestAgent("proj-1", "agent-1")
	if err := store.Create(ctx, agent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if agent.CreatedAt.IsZero() || agent.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}

	got, err := store.Get(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "support-bot" || len(got.Tools) != 1 || got.EnvVariables["REGION"] != "us-east-1" {
		t.Fatalf("unexpected agent: %+v", got)
	}
}

func TestMemoryStore_GetWrongProjectReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-1"))

	if _, err := store.Get(ctx, "proj-2", "agent-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListAgentsScopedToProject(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-1"))
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-2"))
	_ = store.Create(ctx, newTestAgent("proj-2", "agent-3"))

	agents, err := store.ListAgents(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
}

func TestMemoryStore_UpdatePreservesCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	agent := newTestAgent("proj-1", "agent-1")
	_ = store.Create(ctx, agent)
	originalCreatedAt := agent.CreatedAt

	update := newTestAgent("proj-1", "agent-1")
	update.Instructions = "Updated instructions."
	if err := store.Update(ctx, update); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "proj-1", "agent-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Instructions != "Updated instructions." {
		t.Fatalf("expected updated instructions, got %q", got.Instructions)
	}
	if !got.CreatedAt.Equal(originalCreatedAt) {
		t.Fatalf("expected CreatedAt to be preserved")
	}
}

func TestMemoryStore_UpdateUnknownAgentReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Update(ctx, newTestAgent("proj-1", "missing")); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteRemovesAgent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-1"))

	if err := store.Delete(ctx, "proj-1", "agent-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "proj-1", "agent-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_DeleteProjectRemovesAllAgents(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-1"))
	_ = store.Create(ctx, newTestAgent("proj-1", "agent-2"))
	_ = store.Create(ctx, newTestAgent("proj-2", "agent-3"))

	if err := store.DeleteProject(ctx, "proj-1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	agents, err := store.ListAgents(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("expected no agents left in proj-1, got %d", len(agents))
	}
	if _, err := store.Get(ctx, "proj-2", "agent-3"); err != nil {
		t.Fatalf("expected agent-3 in proj-2 to survive, got %v", err)
	}
}

func TestMemoryStore_CloneIsolatesCallerMutation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	agent := newTestAgent("proj-1", "agent-1")
	_ = store.Create(ctx, agent)

	got, _ := store.Get(ctx, "proj-1", "agent-1")
	got.Tools[0].Name = "mutated"
	got.EnvVariables["REGION"] = "mutated"

	again, _ := store.Get(ctx, "proj-1", "agent-1")
	if again.Tools[0].Name == "mutated" || again.EnvVariables["REGION"] == "mutated" {
		t.Fatalf("mutation of returned agent leaked into store: %+v", again)
	}
}
