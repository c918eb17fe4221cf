package projectsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chicoryai/taskrunner/internal/model"
)

// AnthropicAPIKeyEnv is the env-var name the agent's own env-vars mapping
// uses for a user-supplied Anthropic key, which the system key always
// overrides (spec.md §4.2, scenario 5 in §8).
const AnthropicAPIKeyEnv = "ANTHROPIC_API_KEY"

// DataSourceLister is the slice of the datasource store CredentialResolver
// depends on — kept narrow so projectsync doesn't need the full CRUD
// surface of internal/datasource.
type DataSourceLister interface {
	ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error)
}

// CredentialResolver implements spec.md §4.2's credential-resolution half
// of C2: turning a project's configured DataSources into an environment
// mapping, with the system Anthropic key taking precedence over anything
// agent-configured.
type CredentialResolver struct {
	Lister DataSourceLister

	// FallbackAnthropicKey is used when no connected `anthropic` DataSource
	// exists for the project, mirroring original_source's
	// CHICORY_ANTHROPIC_API_KEY environment fallback.
	FallbackAnthropicKey string
}

// NewCredentialResolver builds a resolver.
func NewCredentialResolver(lister DataSourceLister, fallbackAnthropicKey string) *CredentialResolver {
	return &CredentialResolver{Lister: lister, FallbackAnthropicKey: fallbackAnthropicKey}
}

// Resolve returns the environment mapping to invoke the reasoning graph
// with: agentEnv as a base, credential env vars for every non-anthropic
// DataSource layered on top, and the system Anthropic key (data source or
// fallback) always winning over any user-supplied ANTHROPIC_API_KEY.
//
// projectID here is already the effective project — the caller is
// responsible for substituting override_project_id when task metadata
// carries one (spec.md §4.2's "for the request's project (or
// override_project_id when present)").
func (r *CredentialResolver) Resolve(ctx context.Context, projectID string, agentEnv map[string]string) (map[string]string, error) {
	sources, err := r.Lister.ListDataSources(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}

	env := make(map[string]string, len(agentEnv))
	for k, v := range agentEnv {
		env[k] = v
	}

	projectPrefix := strings.ToUpper(projectID)
	var anthropicKey string

	for _, ds := range sources {
		if ds.Type == model.DataSourceAnthropic {
			if key, ok := configString(ds.Configuration, "api_key"); ok && anthropicKey == "" {
				anthropicKey = key
			}
			continue
		}
		for envName, value := range credentialEnvVars(projectPrefix, ds) {
			env[envName] = value
		}
	}

	if anthropicKey == "" {
		anthropicKey = r.FallbackAnthropicKey
	}

	if anthropicKey != "" {
		// System key takes precedence: drop any user-supplied key before
		// injecting the resolved one (spec.md §4.2).
		delete(env, AnthropicAPIKeyEnv)
		env[AnthropicAPIKeyEnv] = anthropicKey
	}

	return env, nil
}

// credentialEnvVars flattens a DataSource's configuration object into
// {PROJECT}_{TYPE}_{FIELD} environment variable names, matching spec.md
// §4.2's bit-exact naming discipline (uppercase project id, underscore,
// uppercase type-specific suffix) using the configuration's own field
// names as the suffix source — this is how `{PROJECT}_GITHUB_ACCESS_TOKEN`
// falls out of a github DataSource whose configuration has an
// "access_token" field, and `{PROJECT}_SNOWFLAKE_PRIVATE_KEY` out of a
// snowflake source with a "private_key" field.
func credentialEnvVars(projectPrefix string, ds *model.DataSource) map[string]string {
	fields := configFields(ds.Configuration)
	typePrefix := strings.ToUpper(string(ds.Type))

	out := make(map[string]string, len(fields))
	for _, field := range fields {
		value, ok := configString(ds.Configuration, field.key)
		if !ok || value == "" {
			continue
		}
		envName := fmt.Sprintf("%s_%s_%s", projectPrefix, typePrefix, strings.ToUpper(field.key))
		out[envName] = value
	}
	return out
}

type configField struct{ key string }

// configFields returns the top-level string-valued keys of a DataSource's
// configuration, in stable (sorted) order.
func configFields(raw json.RawMessage) []configField {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if _, ok := v.(string); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	fields := make([]configField, len(keys))
	for i, k := range keys {
		fields[i] = configField{key: k}
	}
	return fields
}

func configString(raw json.RawMessage, key string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
