package datasource

import (
	"context"
	"sync"
	"time"

	"github.com/chicoryai/taskrunner/internal/model"
)

// MemoryStore is an in-process Store, mirroring the teacher's
// storage.MemoryStore mutex-guarded-map pattern.
type MemoryStore struct {
	mu      sync.Mutex
	sources map[string]*model.DataSource
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sources: make(map[string]*model.DataSource)}
}

func cloneDataSource(ds *model.DataSource) *model.DataSource {
	if ds == nil {
		return nil
	}
	clone := *ds
	if ds.Configuration != nil {
		clone.Configuration = append([]byte(nil), ds.Configuration...)
	}
	return &clone
}

func (s *MemoryStore) Create(ctx context.Context, ds *model.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now
	s.sources[ds.ID] = cloneDataSource(ds)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, projectID, id string) (*model.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.sources[id]
	if !ok || ds.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return cloneDataSource(ds), nil
}

func (s *MemoryStore) ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.DataSource
	for _, ds := range s.sources {
		if ds.ProjectID == projectID {
			out = append(out, cloneDataSource(ds))
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, ds *model.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sources[ds.ID]
	if !ok || existing.ProjectID != ds.ProjectID {
		return ErrNotFound
	}
	ds.UpdatedAt = time.Now()
	s.sources[ds.ID] = cloneDataSource(ds)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.sources[id]
	if !ok || ds.ProjectID != projectID {
		return ErrNotFound
	}
	delete(s.sources, id)
	return nil
}

func (s *MemoryStore) DeleteProject(ctx context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ds := range s.sources {
		if ds.ProjectID == projectID {
			delete(s.sources, id)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
