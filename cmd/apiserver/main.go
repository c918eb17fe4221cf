// Package main is the CLI entry point for the taskrunner apiserver: the
// HTTP surface from spec.md §6 plus the background reaper sweep from
// spec.md §9.
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
	"github.com/chicoryai/taskrunner/internal/config"
	"github.com/chicoryai/taskrunner/internal/httpapi"
	"github.com/chicoryai/taskrunner/internal/observability"
	"github.com/chicoryai/taskrunner/internal/reaper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Output: os.Stderr})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("apiserver exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "taskrunner-apiserver",
		Short:        "Run the taskrunner HTTP API and reaper",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "taskrunner.yaml", "path to YAML configuration file")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}).With("component", "apiserver")

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

	server := httpapi.NewServer(httpapi.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.HTTPPort,
		Broker:      components.Broker,
		Aggregator:  components.Aggregator,
		Agents:      components.Agents,
		Credentials: components.Credentials,
		DataSources: components.DataSources,
		Webfetcher:  components.Webfetcher,
		Auth:        components.Auth,
		Metrics:     components.Metrics,
		Tracer:      components.Tracer,
		Logger:      logger,
	})

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	var reap *reaper.Reaper
	if cfg.Reaper.Enabled {
		reap = reaper.New(components.Broker, components.TaskStore, reaper.Config{
			Schedule:   cfg.Reaper.Schedule,
			StaleAfter: cfg.Reaper.StaleAfter,
			Logger:     logger,
			Metrics:    components.Metrics,
		})
		if err := reap.Start(ctx); err != nil {
			return fmt.Errorf("start reaper: %w", err)
		}
	}

	logger.Info("apiserver started", "addr", server.Addr(), "reaper_enabled", cfg.Reaper.Enabled, "version", version)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if reap != nil {
		if err := reap.Stop(shutdownCtx); err != nil {
			logger.Error("reaper shutdown failed", "error", err)
		}
	}
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	logger.Info("apiserver stopped gracefully")
	return nil
}
