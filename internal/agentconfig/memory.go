package agentconfig

import (
	"context"
	"sync"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments, mirroring internal/datasource.MemoryStore.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]*model.Agent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*model.Agent)}
}

func cloneAgent(a *model.Agent) *model.Agent {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Tools != nil {
		clone.Tools = append([]model.AgentTool(nil), a.Tools...)
	}
	if a.EnvVariables != nil {
		clone.EnvVariables = make(map[string]string, len(a.EnvVariables))
		for k, v := range a.EnvVariables {
			clone.EnvVariables[k] = v
		}
	}
	return &clone
}

func (s *MemoryStore) Create(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, projectID, id string) (*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agent, ok := s.agents[id]
	if !ok || agent.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return cloneAgent(agent), nil
}

func (s *MemoryStore) ListAgents(ctx context.Context, projectID string) ([]*model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*model.Agent
	for _, a := range s.agents {
		if a.ProjectID == projectID {
			result = append(result, cloneAgent(a))
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.agents[agent.ID]
	if !ok || existing.ProjectID != agent.ProjectID {
		return ErrNotFound
	}
	agent.UpdatedAt = time.Now()
	agent.CreatedAt = existing.CreatedAt
	s.agents[agent.ID] = cloneAgent(agent)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.agents[id]
	if !ok || existing.ProjectID != projectID {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.agents {
		if a.ProjectID == projectID {
			delete(s.agents, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
