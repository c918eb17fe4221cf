// Package agentconfig persists Agent records: the system prompt,
// output format, tool references, and env variables the worker (C4)
// fetches at dispatch step 6 of spec.md §4.4.
//
// Grounded on the teacher's storage.AgentStore CRUD shape (Create/Get/
// List/Update/Delete), narrowed from its user-scoped listing to the
// project-scoped listing this spec's entities use throughout.
package agentconfig

import (
	"context"
	"errors"

	"github.com/chicoryai/taskrunner/internal/model"
)

// ErrNotFound is returned when an agent does not exist in the given
// project.
var ErrNotFound = errors.New("agent not found")

// Store is the persistence contract for agents.
type Store interface {
	Create(ctx context.Context, agent *model.Agent) error
	Get(ctx context.Context, projectID, id string) (*model.Agent, error)
	ListAgents(ctx context.Context, projectID string) ([]*model.Agent, error)
	Update(ctx context.Context, agent *model.Agent) error
	Delete(ctx context.Context, projectID, id string) error
	DeleteProject(ctx context.Context, projectID string) error
	Close() error
}
