package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
graph:
  anthropic:
    api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Backend != "memory" {
		t.Errorf("expected default queue backend 'memory', got %q", cfg.Queue.Backend)
	}
	if cfg.ObjectStore.Backend != "local" {
		t.Errorf("expected default object_store backend 'local', got %q", cfg.ObjectStore.Backend)
	}
	if cfg.Worker.MaxAge.String() != "1h0m0s" {
		t.Errorf("expected default worker max_age 1h, got %s", cfg.Worker.MaxAge)
	}
	if cfg.Worker.Reconnect.Factor != 1.5 {
		t.Errorf("expected default reconnect factor 1.5, got %v", cfg.Worker.Reconnect.Factor)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
graph:
  anthropic:
    api_key: sk-test
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidatesObjectStoreBackend(t *testing.T) {
	path := writeConfig(t, `
object_store:
  backend: nfs
graph:
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "object_store.backend") {
		t.Fatalf("expected error to mention object_store.backend, got %v", err)
	}
}

func TestLoadRequiresS3BucketWhenS3Backend(t *testing.T) {
	path := writeConfig(t, `
object_store:
  backend: s3
graph:
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Fatalf("expected error to mention bucket, got %v", err)
	}
}

func TestLoadRequiresGraphProviderAPIKey(t *testing.T) {
	path := writeConfig(t, `
graph:
  provider: openai
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "openai.api_key") {
		t.Fatalf("expected error to mention openai.api_key, got %v", err)
	}
}

func TestLoadRejectsUnknownGraphProvider(t *testing.T) {
	path := writeConfig(t, `
graph:
  provider: cohere
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown graph provider")
	}
}

func TestLoadRejectsMismatchedVersion(t *testing.T) {
	path := writeConfig(t, `
version: 99
graph:
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected version validation error")
	}
	if !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("expected newer-version error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(`
graph:
  anthropic:
    default_model: claude-sonnet-4-5
`), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}

	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
graph:
  anthropic:
    api_key: sk-test
`), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Graph.Anthropic.DefaultModel != "claude-sonnet-4-5" {
		t.Errorf("expected included default_model to survive merge, got %q", cfg.Graph.Anthropic.DefaultModel)
	}
	if cfg.Graph.Anthropic.APIKey != "sk-test" {
		t.Errorf("expected main file's api_key to survive merge, got %q", cfg.Graph.Anthropic.APIKey)
	}
}

func TestLoadEnvOverridesTakePrecedence(t *testing.T) {
	path := writeConfig(t, `
graph:
  anthropic:
    api_key: sk-test
`)

	t.Setenv("DATABASE_URL", "postgres://env-override/db")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://env-override/db" {
		t.Errorf("expected DATABASE_URL env override, got %q", cfg.Database.URL)
	}
}
