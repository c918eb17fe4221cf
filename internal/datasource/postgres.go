package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chicoryai/taskrunner/internal/model"
)

// PostgresConfig mirrors storage.CockroachConfig's connection-pool shape.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store atop a `data_sources` table:
//
//	CREATE TABLE data_sources (
//	    id          TEXT PRIMARY KEY,
//	    project_id  TEXT NOT NULL,
//	    type        TEXT NOT NULL,
//	    name        TEXT NOT NULL,
//	    configuration JSONB NOT NULL,
//	    status      TEXT NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromDSN opens a connection pool and verifies connectivity.
func NewPostgresStoreFromDSN(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, ds *model.DataSource) error {
	now := time.Now()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO data_sources (id, project_id, type, name, configuration, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ds.ID, ds.ProjectID, string(ds.Type), ds.Name, []byte(ds.Configuration), string(ds.Status), ds.CreatedAt, ds.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create data source: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, projectID, id string) (*model.DataSource, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, type, name, configuration, status, created_at, updated_at
		FROM data_sources WHERE id = $1 AND project_id = $2
	`, id, projectID)
	ds, err := scanDataSource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get data source: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, type, name, configuration, status, created_at, updated_at
		FROM data_sources WHERE project_id = $1
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	var out []*model.DataSource
	for rows.Next() {
		ds, err := scanDataSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, ds *model.DataSource) error {
	ds.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE data_sources SET type = $1, name = $2, configuration = $3, status = $4, updated_at = $5
		WHERE id = $6 AND project_id = $7
	`, string(ds.Type), ds.Name, []byte(ds.Configuration), string(ds.Status), ds.UpdatedAt, ds.ID, ds.ProjectID)
	if err != nil {
		return fmt.Errorf("update data source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, projectID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM data_sources WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete data source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM data_sources WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project data sources: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataSource(scanner rowScanner) (*model.DataSource, error) {
	var (
		ds           model.DataSource
		typ, status  string
		configBytes  []byte
	)
	if err := scanner.Scan(&ds.ID, &ds.ProjectID, &typ, &ds.Name, &configBytes, &status, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
		return nil, err
	}
	ds.Type = model.DataSourceType(typ)
	ds.Status = model.DataSourceStatus(status)
	ds.Configuration = configBytes
	return &ds, nil
}
