package datasource

import (
	"context"
	"errors"

	"github.com/chicoryai/taskrunner/internal/model"
)

// ErrNotFound mirrors storage.ErrNotFound's sentinel-error style.
var ErrNotFound = errors.New("data source not found")

// Store persists DataSources, following the teacher's
// storage.AgentStore CRUD shape. The list method is named ListDataSources
// (rather than plain List) so Store satisfies
// projectsync.DataSourceLister directly, letting the broker hand the
// same Store to both the HTTP surface and the credential resolver.
type Store interface {
	Create(ctx context.Context, ds *model.DataSource) error
	Get(ctx context.Context, projectID, id string) (*model.DataSource, error)
	ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error)
	Update(ctx context.Context, ds *model.DataSource) error
	Delete(ctx context.Context, projectID, id string) error
	DeleteProject(ctx context.Context, projectID string) error
	Close() error
}
