package projectsync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chicoryai/taskrunner/internal/model"
)

type fakeLister struct {
	sources []*model.DataSource
}

func (f *fakeLister) ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error) {
	return f.sources, nil
}

func rawConfig(t *testing.T, m map[string]string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return data
}

func TestCredentialResolver_FlattensNonAnthropicSources(t *testing.T) {
	lister := &fakeLister{sources: []*model.DataSource{
		{Type: model.DataSourceGitHub, Configuration: rawConfig(t, map[string]string{"access_token": "gh-tok"})},
		{Type: model.DataSourceSnowflake, Configuration: rawConfig(t, map[string]string{"private_key": "sf-key"})},
	}}
	resolver := NewCredentialResolver(lister, "")

	env, err := resolver.Resolve(context.Background(), "acme", map[string]string{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env["ACME_GITHUB_ACCESS_TOKEN"] != "gh-tok" {
		t.Errorf("ACME_GITHUB_ACCESS_TOKEN = %q, want gh-tok", env["ACME_GITHUB_ACCESS_TOKEN"])
	}
	if env["ACME_SNOWFLAKE_PRIVATE_KEY"] != "sf-key" {
		t.Errorf("ACME_SNOWFLAKE_PRIVATE_KEY = %q, want sf-key", env["ACME_SNOWFLAKE_PRIVATE_KEY"])
	}
}

// spec.md §8 scenario 5: agent has ANTHROPIC_API_KEY=USER, project has an
// Anthropic data source with api_key=SYSTEM → resolved env must carry
// SYSTEM, not USER.
func TestCredentialResolver_SystemAnthropicKeyOverridesUserKey(t *testing.T) {
	lister := &fakeLister{sources: []*model.DataSource{
		{Type: model.DataSourceAnthropic, Configuration: rawConfig(t, map[string]string{"api_key": "SYSTEM"})},
	}}
	resolver := NewCredentialResolver(lister, "")

	env, err := resolver.Resolve(context.Background(), "acme", map[string]string{"ANTHROPIC_API_KEY": "USER"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env[AnthropicAPIKeyEnv] != "SYSTEM" {
		t.Errorf("ANTHROPIC_API_KEY = %q, want SYSTEM", env[AnthropicAPIKeyEnv])
	}
}

func TestCredentialResolver_FallsBackWhenNoAnthropicSource(t *testing.T) {
	lister := &fakeLister{sources: nil}
	resolver := NewCredentialResolver(lister, "fallback-key")

	env, err := resolver.Resolve(context.Background(), "acme", map[string]string{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env[AnthropicAPIKeyEnv] != "fallback-key" {
		t.Errorf("ANTHROPIC_API_KEY = %q, want fallback-key", env[AnthropicAPIKeyEnv])
	}
}

func TestCredentialResolver_NoAnthropicAnywhereLeavesKeyUnset(t *testing.T) {
	lister := &fakeLister{sources: nil}
	resolver := NewCredentialResolver(lister, "")

	env, err := resolver.Resolve(context.Background(), "acme", map[string]string{"OTHER": "x"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, ok := env[AnthropicAPIKeyEnv]; ok {
		t.Error("expected no ANTHROPIC_API_KEY to be set")
	}
	if env["OTHER"] != "x" {
		t.Error("expected base agent env to be preserved")
	}
}
