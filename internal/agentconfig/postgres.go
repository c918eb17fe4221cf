package agentconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chicoryai/taskrunner/internal/model"
)

// PostgresConfig configures a PostgresStore, mirroring
// internal/datasource.PostgresConfig.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPostgresConfig returns sensible connection-pool defaults.
func DefaultPostgresConfig(dsn string) PostgresConfig {
	return PostgresConfig{DSN: dsn, MaxOpenConns: 10, ConnMaxLifetime: time.Hour}
}

// PostgresStore persists agents in a `agents` table:
//
//	id            TEXT PRIMARY KEY
//	project_id    TEXT NOT NULL
//	name          TEXT NOT NULL
//	description   TEXT NOT NULL
//	instructions  TEXT NOT NULL
//	output_format TEXT NOT NULL
//	tools         JSONB NOT NULL
//	env_variables JSONB NOT NULL
//	created_at    TIMESTAMPTZ NOT NULL
//	updated_at    TIMESTAMPTZ NOT NULL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStoreFromDSN opens a PostgresStore.
func NewPostgresStoreFromDSN(cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Create(ctx context.Context, agent *model.Agent) error {
	now := time.Now()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	tools, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	env, err := json.Marshal(agent.EnvVariables)
	if err != nil {
		return fmt.Errorf("marshal env variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, project_id, name, description, instructions, output_format, tools, env_variables, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, agent.ID, agent.ProjectID, agent.Name, agent.Description, agent.Instructions, string(agent.OutputFormat), tools, env, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, projectID, id string) (*model.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, instructions, output_format, tools, env_variables, created_at, updated_at
		FROM agents WHERE id = $1 AND project_id = $2
	`, id, projectID)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return agent, err
}

func (s *PostgresStore) ListAgents(ctx context.Context, projectID string) ([]*model.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, instructions, output_format, tools, env_variables, created_at, updated_at
		FROM agents WHERE project_id = $1 ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var result []*model.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, agent)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, agent *model.Agent) error {
	tools, err := json.Marshal(agent.Tools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	env, err := json.Marshal(agent.EnvVariables)
	if err != nil {
		return fmt.Errorf("marshal env variables: %w", err)
	}
	agent.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name = $1, description = $2, instructions = $3, output_format = $4, tools = $5, env_variables = $6, updated_at = $7
		WHERE id = $8 AND project_id = $9
	`, agent.Name, agent.Description, agent.Instructions, string(agent.OutputFormat), tools, env, agent.UpdatedAt, agent.ID, agent.ProjectID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agent rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, projectID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1 AND project_id = $2`, id, projectID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project agents: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.Agent, error) {
	var agent model.Agent
	var outputFormat string
	var tools, env []byte
	if err := row.Scan(&agent.ID, &agent.ProjectID, &agent.Name, &agent.Description, &agent.Instructions,
		&outputFormat, &tools, &env, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
		return nil, err
	}
	agent.OutputFormat = model.OutputFormat(outputFormat)
	if len(tools) > 0 {
		if err := json.Unmarshal(tools, &agent.Tools); err != nil {
			return nil, fmt.Errorf("unmarshal tools: %w", err)
		}
	}
	if len(env) > 0 {
		if err := json.Unmarshal(env, &agent.EnvVariables); err != nil {
			return nil, fmt.Errorf("unmarshal env variables: %w", err)
		}
	}
	return &agent, nil
}
