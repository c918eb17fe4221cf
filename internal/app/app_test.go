package app

import (
	"testing"
	"time"

	"github.com/chicoryai/taskrunner/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ObjectStore: config.ObjectStoreConfig{Backend: "local", LocalPath: dir},
		Queue:       config.QueueConfig{Backend: "memory"},
		Worker:      config.WorkerConfig{ProjectSyncBase: dir},
		Auth:        config.AuthConfig{TokenExpiry: time.Hour},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	c, err := Build(memoryConfig(t), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer c.Close()

	if c.Broker == nil || c.Aggregator == nil || c.Credentials == nil || c.Syncer == nil || c.Auth == nil {
		t.Fatal("expected all collaborators to be built")
	}
}

func TestBuildWiresToolServers(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.ToolServers.Project = []config.ToolServerConfig{{Name: "calc", BaseURL: "http://localhost:9001"}}
	cfg.ToolServers.External = &config.ExternalServerConfig{Name: "github", URL: "http://localhost:9002"}

	c, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer c.Close()

	if len(c.Aggregator.ProjectServers) != 1 {
		t.Fatalf("expected 1 project server, got %d", len(c.Aggregator.ProjectServers))
	}
	if c.Aggregator.External == nil || c.Aggregator.External.Name != "github" {
		t.Fatal("expected external server to be wired")
	}
}
