package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/chicoryai/taskrunner/internal/observability"
)

// PostgresConfig configures the Postgres-backed queue connection, mirroring
// internal/storage's CockroachConfig shape in the teacher repo.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	// VisibilityTimeout bounds how long a lease is considered live before
	// another worker may re-acquire it (spec.md §5's 2h default).
	VisibilityTimeout time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:      10,
		MaxIdleConns:      5,
		ConnMaxLifetime:   5 * time.Minute,
		ConnectTimeout:    10 * time.Second,
		VisibilityTimeout: 2 * time.Hour,
	}
}

// PostgresQueue implements Queue atop a `work_items` table leased with
// SELECT ... FOR UPDATE SKIP LOCKED, the same primitive the teacher's
// tasks.CockroachStore.AcquireExecution uses for distributed locking.
//
// Schema (created out of band by migrations, not by this package):
//
//	CREATE TABLE work_items (
//	    lease_id          UUID PRIMARY KEY,
//	    task_id           TEXT NOT NULL,
//	    assistant_task_id TEXT NOT NULL,
//	    project_id        TEXT NOT NULL,
//	    agent_id          TEXT NOT NULL,
//	    content           TEXT NOT NULL,
//	    metadata          JSONB NOT NULL,
//	    action            TEXT NOT NULL,
//	    published_at      TIMESTAMPTZ NOT NULL,
//	    leased_by         TEXT,
//	    leased_until      TIMESTAMPTZ,
//	    attempt           INT NOT NULL DEFAULT 0
//	);
type PostgresQueue struct {
	db      *sql.DB
	cfg     *PostgresConfig
	Metrics *observability.Metrics
}

// NewPostgresQueueFromDSN opens a connection pool and verifies connectivity.
func NewPostgresQueueFromDSN(dsn string, cfg *PostgresConfig) (*PostgresQueue, error) {
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

	return &PostgresQueue{db: db, cfg: cfg}, nil
}

func (q *PostgresQueue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Publish durably inserts item. The insert is the entirety of publication;
// there is no separate exchange/routing-key hop to fail independently, so
// a non-nil error here is unambiguous: the message was not enqueued.
func (q *PostgresQueue) Publish(ctx context.Context, item WorkItem) error {
	metadata, err := marshalMetadata(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	if item.Action == "" {
		item.Action = ActionProcessAgentTask
	}

	start := time.Now()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO work_items
			(lease_id, task_id, assistant_task_id, project_id, agent_id, content, metadata, action, published_at, attempt)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0)
	`,
		uuid.NewString(),
		item.TaskID,
		item.AssistantTaskID,
		item.ProjectID,
		item.AgentID,
		item.Content,
		metadata,
		string(item.Action),
		item.Timestamp,
	)
	q.recordQuery("insert", "work_items", start, err)
	if err != nil {
		return fmt.Errorf("publish work item: %w", err)
	}
	return nil
}

// recordQuery is a no-op when Metrics is unset, so PostgresQueue remains
// usable in tests that construct it without the observability wiring.
func (q *PostgresQueue) recordQuery(operation, table string, start time.Time, err error) {
	if q.Metrics == nil {
		return
	}
	q.Metrics.RecordSQLQuery(operation, table, time.Since(start).Seconds(), err)
}

// AcquireNext leases the oldest item not currently leased (or whose lease
// has expired past VisibilityTimeout), using FOR UPDATE SKIP LOCKED so
// concurrent workers never observe the same row.
func (q *PostgresQueue) AcquireNext(ctx context.Context, workerID string) (*Lease, error) {
	queryStart := time.Now()
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	row := tx.QueryRowContext(ctx, `
		SELECT lease_id, task_id, assistant_task_id, project_id, agent_id, content, metadata, action, published_at, attempt
		FROM work_items
		WHERE leased_until IS NULL OR leased_until < $1
		ORDER BY published_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now)

	var (
		item         WorkItem
		leaseID      string
		action       string
		metadataJSON []byte
		attempt      int
	)
	if err := row.Scan(&leaseID, &item.TaskID, &item.AssistantTaskID, &item.ProjectID, &item.AgentID,
		&item.Content, &metadataJSON, &action, &item.Timestamp, &attempt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			q.recordQuery("select", "work_items", queryStart, nil)
			return nil, nil
		}
		q.recordQuery("select", "work_items", queryStart, err)
		return nil, fmt.Errorf("acquire next: %w", err)
	}
	item.Action = Action(action)
	item.Metadata, err = unmarshalMetadata(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	leasedUntil := now.Add(q.cfg.VisibilityTimeout)
	if _, err := tx.ExecContext(ctx, `
		UPDATE work_items SET leased_by = $1, leased_until = $2, attempt = attempt + 1
		WHERE lease_id = $3
	`, workerID, leasedUntil, leaseID); err != nil {
		return nil, fmt.Errorf("mark leased: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}
	q.recordQuery("select", "work_items", queryStart, nil)
	if q.Metrics != nil {
		q.Metrics.RecordLeaseAcquired(now.Sub(item.Timestamp).Seconds())
	}

	return &Lease{WorkItem: item, LeaseID: leaseID, Attempt: attempt + 1}, nil
}

// Requeue clears the lease fields so the item is immediately eligible for
// AcquireNext again, used only for the pre-acquisition transport failures
// spec.md §4.4.4 classifies as recoverable.
func (q *PostgresQueue) Requeue(ctx context.Context, leaseID string) error {
	start := time.Now()
	_, err := q.db.ExecContext(ctx, `
		UPDATE work_items SET leased_by = NULL, leased_until = NULL WHERE lease_id = $1
	`, leaseID)
	q.recordQuery("update", "work_items", start, err)
	if err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	return nil
}

// Complete permanently removes the leased item.
func (q *PostgresQueue) Complete(ctx context.Context, leaseID string) error {
	start := time.Now()
	_, err := q.db.ExecContext(ctx, `DELETE FROM work_items WHERE lease_id = $1`, leaseID)
	q.recordQuery("delete", "work_items", start, err)
	if err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	return nil
}

// Depth counts unleased items. The worker dispatch loop polls this
// periodically and feeds the result to Metrics.SetQueueDepth.
func (q *PostgresQueue) Depth(ctx context.Context) (int, error) {
	start := time.Now()
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT count(*) FROM work_items WHERE leased_until IS NULL OR leased_until < now()
	`).Scan(&n)
	q.recordQuery("select", "work_items", start, err)
	if err != nil {
		return 0, fmt.Errorf("depth: %w", err)
	}
	if q.Metrics != nil {
		q.Metrics.SetQueueDepth(n)
	}
	return n, nil
}
