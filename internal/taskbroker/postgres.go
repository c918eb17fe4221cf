package taskbroker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/observability"
)

// PostgresConfig mirrors the teacher's CockroachConfig connection-pool
// shape (internal/storage/cockroach_config.go).
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

// PostgresStore implements Store atop a `tasks` table.
//
// Schema (created out of band):
//
//	CREATE TABLE tasks (
//	    id          TEXT PRIMARY KEY,
//	    project_id  TEXT NOT NULL,
//	    agent_id    TEXT NOT NULL,
//	    role        TEXT NOT NULL,
//	    content     TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    pair_key    TEXT NOT NULL,
//	    metadata    JSONB NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db      *sql.DB
	Metrics *observability.Metrics
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

// recordQuery is a no-op when Metrics is unset, so PostgresStore remains
// usable in tests that construct it without the observability wiring.
func (s *PostgresStore) recordQuery(operation string, start time.Time, err error) {
	if s.Metrics == nil {
		return
	}
	s.Metrics.RecordSQLQuery(operation, "tasks", time.Since(start).Seconds(), err)
}

func (s *PostgresStore) CreatePair(ctx context.Context, userTask, assistantTask *model.Task) error {
	if userTask == nil || assistantTask == nil {
		return fmt.Errorf("both tasks are required")
	}

	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range []*model.Task{userTask, assistantTask} {
		metadata, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, project_id, agent_id, role, content, status, pair_key, metadata, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			t.ID, t.ProjectID, t.AgentID, string(t.Role), t.Content, string(t.Status),
			t.PairKey, metadata, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			s.recordQuery("insert", start, err)
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}

	err = tx.Commit()
	s.recordQuery("insert", start, err)
	return err
}

func (s *PostgresStore) GetTask(ctx context.Context, projectID, agentID, taskID string) (*model.Task, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, agent_id, role, content, status, pair_key, metadata, created_at, updated_at
		FROM tasks WHERE id = $1 AND project_id = $2 AND agent_id = $3
	`, taskID, projectID, agentID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordQuery("select", start, nil)
		return nil, nil
	}
	s.recordQuery("select", start, err)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// UpdateTask re-reads the current status inside the same transaction that
// writes the update, so the "cancel beats complete" guarantee (spec.md
// §4.4.1's ordering guarantee, property P-3) holds even under concurrent
// writers: ApplyTransition is evaluated against the freshest committed
// status, not a value read earlier in the worker's process.
func (s *PostgresStore) UpdateTask(ctx context.Context, projectID, agentID, taskID string, update TaskUpdate) (*model.Task, error) {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, project_id, agent_id, role, content, status, pair_key, metadata, created_at, updated_at
		FROM tasks WHERE id = $1 AND project_id = $2 AND agent_id = $3
		FOR UPDATE
	`, taskID, projectID, agentID)

	task, err := scanTask(row)
	if err != nil {
		s.recordQuery("update", start, err)
		return nil, fmt.Errorf("get task for update: %w", err)
	}

	if TransitionBlocked(task.Status, update.Status) {
		err := tx.Commit()
		s.recordQuery("update", start, err)
		if err != nil {
			return nil, fmt.Errorf("commit no-op update: %w", err)
		}
		return task, nil
	}

	if update.Status != nil {
		task.Status = ApplyTransition(task.Status, *update.Status)
	}
	if update.Content != nil {
		task.Content = *update.Content
	}
	task.UpdatedAt = time.Now()

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $1, content = $2, updated_at = $3 WHERE id = $4
	`, string(task.Status), task.Content, task.UpdatedAt, task.ID); err != nil {
		s.recordQuery("update", start, err)
		return nil, fmt.Errorf("update task: %w", err)
	}

	err = tx.Commit()
	s.recordQuery("update", start, err)
	if err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ListAgentTasks(ctx context.Context, projectID, agentID string, opts ListOptions) ([]*model.Task, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListOptions().Limit
	}
	order := "DESC"
	if !opts.NewestFirst {
		order = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, agent_id, role, content, status, pair_key, metadata, created_at, updated_at
		FROM tasks WHERE project_id = $1 AND agent_id = $2
	`)
	args := []any{projectID, agentID}
	if opts.StatusFilter != "" {
		args = append(args, string(opts.StatusFilter))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY created_at %s LIMIT %d", order, limit)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.recordQuery("select", start, err)
		return nil, fmt.Errorf("list agent tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			s.recordQuery("select", start, err)
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	err = rows.Err()
	s.recordQuery("select", start, err)
	return tasks, err
}

func (s *PostgresStore) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]*model.Task, error) {
	start := time.Now()
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, agent_id, role, content, status, pair_key, metadata, created_at, updated_at
		FROM tasks WHERE role = $1 AND status = $2 AND updated_at < $3
	`, string(model.RoleAssistant), string(model.StatusProcessing), cutoff)
	if err != nil {
		s.recordQuery("select", start, err)
		return nil, fmt.Errorf("list stale processing: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			s.recordQuery("select", start, err)
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	err = rows.Err()
	s.recordQuery("select", start, err)
	return tasks, err
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = $1`, projectID)
	s.recordQuery("delete", start, err)
	if err != nil {
		return fmt.Errorf("delete project tasks: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*model.Task, error) {
	var (
		t            model.Task
		role, status string
		metadataJSON []byte
	)
	if err := scanner.Scan(&t.ID, &t.ProjectID, &t.AgentID, &role, &t.Content, &status,
		&t.PairKey, &metadataJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Role = model.Role(role)
	t.Status = model.Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}
