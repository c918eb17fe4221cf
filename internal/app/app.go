// Package app centralizes the collaborator wiring shared by cmd/apiserver
// and cmd/worker: one constructor that reads *config.Config and builds
// every storage and domain collaborator, so neither binary's main.go
// duplicates backend selection logic.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chicoryai/taskrunner/internal/agentconfig"
	"github.com/chicoryai/taskrunner/internal/auth"
	"github.com/chicoryai/taskrunner/internal/config"
	"github.com/chicoryai/taskrunner/internal/datasource"
	"github.com/chicoryai/taskrunner/internal/objectstore"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/projectsync"
	"github.com/chicoryai/taskrunner/internal/queue"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
	"github.com/chicoryai/taskrunner/internal/toolserver"
)

// Components is every collaborator both binaries need, built from a single
// *config.Config.
type Components struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// TracerShutdown flushes and closes the tracer's exporter. It is a
	// no-op when tracing.endpoint is unset. Callers must invoke it
	// alongside Close.
	TracerShutdown func(context.Context) error

	TaskStore   taskbroker.Store
	Queue       queue.Queue
	Broker      *taskbroker.Broker
	Agents      agentconfig.Store
	DataSources datasource.Store
	ObjectStore objectstore.Store

	Aggregator  *toolserver.Aggregator
	Syncer      *projectsync.Syncer
	Credentials *projectsync.CredentialResolver
	Webfetcher  *datasource.Webfetcher
	Auth        *auth.Service
}

// Build constructs every collaborator named in cfg. Callers are
// responsible for calling Close when done.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tracingEndpoint := cfg.Tracing.Endpoint
	if !cfg.Tracing.Enabled {
		tracingEndpoint = ""
	}
	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:  "taskrunner",
		Endpoint:     tracingEndpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
	})
	c := &Components{
		Config:         cfg,
		Logger:         logger,
		Metrics:        observability.NewMetrics(),
		Tracer:         tracer,
		TracerShutdown: tracerShutdown,
	}

	taskStore, err := buildTaskStore(cfg, c.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build task store: %w", err)
	}
	c.TaskStore = taskStore

	q, err := buildQueue(cfg, c.Metrics)
	if err != nil {
		return nil, fmt.Errorf("build queue: %w", err)
	}
	c.Queue = q
	c.Broker = taskbroker.New(taskStore, q)

	agents, err := buildAgentStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build agent store: %w", err)
	}
	c.Agents = agents

	dataSources, err := buildDataSourceStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build data source store: %w", err)
	}
	c.DataSources = dataSources

	objStore, err := buildObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("build object store: %w", err)
	}
	c.ObjectStore = objStore

	projectServers := make([]toolserver.ProjectServer, 0, len(cfg.ToolServers.Project))
	for _, s := range cfg.ToolServers.Project {
		projectServers = append(projectServers, toolserver.ProjectServer{Name: s.Name, BaseURL: s.BaseURL})
	}
	var external *toolserver.ExternalServer
	if cfg.ToolServers.External != nil {
		external = &toolserver.ExternalServer{Name: cfg.ToolServers.External.Name, URL: cfg.ToolServers.External.URL}
	}
	c.Aggregator = toolserver.NewAggregator(projectServers, external, dataSources, logger)
	c.Aggregator.Metrics = c.Metrics
	c.Aggregator.Tracer = c.Tracer

	c.Syncer = projectsync.NewSyncer(objStore, cfg.Worker.ProjectSyncBase, logger)
	c.Syncer.Metrics = c.Metrics
	c.Credentials = projectsync.NewCredentialResolver(dataSources, cfg.Worker.FallbackAnthropic)
	c.Webfetcher = datasource.NewWebfetcher(objStore, logger)

	c.Auth = auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
	})

	return c, nil
}

// Close releases every closable collaborator, collecting (not
// short-circuiting on) the first error so a failure closing one store
// doesn't leak the others.
func (c *Components) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.TaskStore != nil {
		record(c.TaskStore.Close())
	}
	if c.Queue != nil {
		record(c.Queue.Close())
	}
	if c.Agents != nil {
		record(c.Agents.Close())
	}
	if c.DataSources != nil {
		record(c.DataSources.Close())
	}
	if c.ObjectStore != nil {
		record(c.ObjectStore.Close())
	}
	return firstErr
}

// cfg.Queue.Backend doubles as the overall persistence backend toggle:
// this config has no separate knob for "should agents/data sources/tasks
// live in Postgres", since a deployment that wants a durable queue always
// wants durable tasks and agent/data-source records alongside it, and one
// sharing cfg.Database.URL for all four keeps the config surface small.

func buildTaskStore(cfg *config.Config, metrics *observability.Metrics) (taskbroker.Store, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		store, err := taskbroker.NewPostgresStoreFromDSN(cfg.Database.URL, &taskbroker.PostgresConfig{
			MaxOpenConns:    cfg.Database.MaxConnections,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		store.Metrics = metrics
		return store, nil
	default:
		return taskbroker.NewMemoryStore(), nil
	}
}

func buildQueue(cfg *config.Config, metrics *observability.Metrics) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		q, err := queue.NewPostgresQueueFromDSN(cfg.Queue.DSN, queue.DefaultPostgresConfig())
		if err != nil {
			return nil, err
		}
		q.Metrics = metrics
		return q, nil
	default:
		return queue.NewMemoryQueue(), nil
	}
}

func buildAgentStore(cfg *config.Config) (agentconfig.Store, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		return agentconfig.NewPostgresStoreFromDSN(agentconfig.DefaultPostgresConfig(cfg.Database.URL))
	default:
		return agentconfig.NewMemoryStore(), nil
	}
}

func buildDataSourceStore(cfg *config.Config) (datasource.Store, error) {
	switch cfg.Queue.Backend {
	case "postgres":
		return datasource.NewPostgresStoreFromDSN(cfg.Database.URL, datasource.DefaultPostgresConfig())
	default:
		return datasource.NewMemoryStore(), nil
	}
}

func buildObjectStore(cfg *config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Backend {
	case "s3":
		return objectstore.NewS3Store(context.Background(), &objectstore.S3Config{
			Bucket:          cfg.ObjectStore.S3.Bucket,
			Region:          cfg.ObjectStore.S3.Region,
			Endpoint:        cfg.ObjectStore.S3.Endpoint,
			AccessKeyID:     cfg.ObjectStore.S3.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.S3.SecretAccessKey,
			UsePathStyle:    cfg.ObjectStore.S3.UsePathStyle,
		})
	default:
		return objectstore.NewLocalStore(cfg.ObjectStore.LocalPath)
	}
}
