package taskbroker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments, mirroring the teacher's storage.MemoryStore pattern.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*model.Task // keyed by task ID
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*model.Task)}
}

func cloneTask(t *model.Task) *model.Task {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

func (s *MemoryStore) CreatePair(ctx context.Context, userTask, assistantTask *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if userTask == nil || assistantTask == nil {
		return fmt.Errorf("both tasks are required")
	}
	s.tasks[userTask.ID] = cloneTask(userTask)
	s.tasks[assistantTask.ID] = cloneTask(assistantTask)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, projectID, agentID, taskID string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || task.ProjectID != projectID || task.AgentID != agentID {
		return nil, nil
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, projectID, agentID, taskID string, update TaskUpdate) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.ProjectID != projectID || task.AgentID != agentID {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	if TransitionBlocked(task.Status, update.Status) {
		return cloneTask(task), nil
	}

	if update.Status != nil {
		task.Status = ApplyTransition(task.Status, *update.Status)
	}
	if update.Content != nil {
		task.Content = *update.Content
	}
	task.UpdatedAt = time.Now()

	return cloneTask(task), nil
}

func (s *MemoryStore) ListAgentTasks(ctx context.Context, projectID, agentID string, opts ListOptions) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*model.Task
	for _, t := range s.tasks {
		if t.ProjectID != projectID || t.AgentID != agentID {
			continue
		}
		if opts.StatusFilter != "" && t.Status != opts.StatusFilter {
			continue
		}
		matched = append(matched, cloneTask(t))
	}

	sort.Slice(matched, func(i, j int) bool {
		if opts.NewestFirst {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListOptions().Limit
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var stale []*model.Task
	for _, t := range s.tasks {
		if t.Role == model.RoleAssistant && t.Status == model.StatusProcessing && t.UpdatedAt.Before(cutoff) {
			stale = append(stale, cloneTask(t))
		}
	}
	return stale, nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.ProjectID == projectID {
			delete(s.tasks, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
