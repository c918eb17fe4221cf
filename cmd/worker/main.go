// Package main is the CLI entry point for the taskrunner worker: the
// dispatch-loop process described in spec.md §4.4 that leases work items,
// drives the reasoning-graph contract, and writes task status back
// through the broker.
//
// This is a single-command cobra binary: no service-install/migrate/
// onboard subcommands, just the one long-running dispatch loop.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chicoryai/taskrunner/internal/app"
	"github.com/chicoryai/taskrunner/internal/backoff"
	"github.com/chicoryai/taskrunner/internal/config"
	"github.com/chicoryai/taskrunner/internal/graph"
	"github.com/chicoryai/taskrunner/internal/graph/providers"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/queue"
	"github.com/chicoryai/taskrunner/internal/worker"
)

// queueDepthPollInterval bounds how stale the queue-depth gauge can be;
// the gauge only matters for trend alerting, so a coarse interval is fine.
const queueDepthPollInterval = 15 * time.Second

// pollQueueDepth feeds queue.Queue.Depth into the queue-depth gauge on a
// fixed interval until ctx is cancelled.
func pollQueueDepth(ctx context.Context, q queue.Queue, logger *slog.Logger) {
	pq, ok := q.(*queue.PostgresQueue)
	if !ok || pq.Metrics == nil {
		return
	}
	ticker := time.NewTicker(queueDepthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pq.Depth(ctx); err != nil {
				logger.Warn("queue depth poll failed", "error", err)
			}
		}
	}
}

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Output: os.Stderr})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)

	cmd := &cobra.Command{
		Use:     "taskrunner-worker",
		Short:   "Run the taskrunner dispatch loop",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, provider)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskrunner.yaml", "path to YAML configuration file")
	cmd.Flags().StringVar(&provider, "graph-provider", "", "override the configured graph provider (anthropic|openai|bedrock)")
	return cmd
}

func run(ctx context.Context, configPath, providerOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if providerOverride != "" {
		cfg.Graph.Provider = providerOverride
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}).With("component", "worker", "worker_id", cfg.Worker.WorkerID)

	components, err := app.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("error closing components", "error", err)
		}
		if err := components.TracerShutdown(context.Background()); err != nil {
			logger.Error("error shutting down tracer", "error", err)
		}
	}()

	g, err := buildGraph(ctx, cfg.Graph)
	if err != nil {
		return fmt.Errorf("build graph provider: %w", err)
	}

	dispatcherCfg := worker.Config{
		WorkerID:       cfg.Worker.WorkerID,
		MaxAge:         cfg.Worker.MaxAge,
		RecursionLimit: cfg.Worker.RecursionLimit,
		PollInterval:   cfg.Worker.PollInterval,
		ReconnectPolicy: backoff.BackoffPolicy{
			InitialMs: float64(cfg.Worker.Reconnect.InitialMs),
			MaxMs:     float64(cfg.Worker.Reconnect.MaxMs),
			Factor:    cfg.Worker.Reconnect.Factor,
			Jitter:    cfg.Worker.Reconnect.Jitter,
		},
		Logger: logger,
	}

	dispatcher := worker.NewDispatcher(
		components.Queue,
		components.Broker,
		components.Syncer,
		components.Aggregator,
		components.Agents,
		components.Credentials,
		g,
		dispatcherCfg,
	)
	dispatcher.Metrics = components.Metrics
	dispatcher.Tracer = components.Tracer

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("worker started", "graph_provider", cfg.Graph.Provider, "version", version)

	go pollQueueDepth(ctx, components.Queue, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("dispatcher exited: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	select {
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("dispatcher exited: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("dispatcher did not stop within shutdown window")
	}

	logger.Info("worker stopped")
	return nil
}

// buildGraph selects one of the reference graph.Graph adapters per
// cfg.Provider. The reasoning graph itself is out of this repo's scope
// (spec.md §1); these adapters exist to give the worker something real to
// drive end to end.
func buildGraph(ctx context.Context, cfg config.GraphConfig) (graph.Graph, error) {
	switch cfg.Provider {
	case "openai":
		return providers.NewOpenAIGraph(providers.OpenAIConfig{
			APIKey:       cfg.OpenAI.APIKey,
			DefaultModel: cfg.OpenAI.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockGraph(ctx, providers.BedrockConfig{
			Region:       cfg.Bedrock.Region,
			DefaultModel: cfg.Bedrock.DefaultModel,
		})
	case "anthropic", "":
		return providers.NewAnthropicGraph(providers.AnthropicConfig{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			DefaultModel: cfg.Anthropic.DefaultModel,
			MaxTokens:    cfg.Anthropic.MaxTokens,
		})
	default:
		return nil, fmt.Errorf("unknown graph provider %q", cfg.Provider)
	}
}
