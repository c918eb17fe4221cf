package toolserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chicoryai/taskrunner/internal/model"
)

func toolsListServer(t *testing.T, tools []rawTool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tools)
	}))
}

func unreachableServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	return srv
}

type fakeDataSourceLister struct {
	sources []*model.DataSource
}

func (f *fakeDataSourceLister) ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error) {
	return f.sources, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestAggregator_MergesProjectAndAgentScopedServers(t *testing.T) {
	projSrv := toolsListServer(t, []rawTool{{Name: "search_docs", Parameters: json.RawMessage(`{"type":"object"}`)}})
	defer projSrv.Close()
	agentSrv := toolsListServer(t, []rawTool{{Name: "send_email", Parameters: json.RawMessage(`{"type":"object"}`)}})
	defer agentSrv.Close()

	agg := NewAggregator(
		[]ProjectServer{{Name: "project-tools", BaseURL: projSrv.URL}},
		nil,
		&fakeDataSourceLister{},
		newTestLogger(),
	)

	config, err := agg.Aggregate(context.Background(), "proj-1", []model.AgentTool{
		{ToolType: model.AgentToolMCP, ServerURL: agentSrv.URL, Name: "agent-tools"},
	})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(config.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %d: %+v", len(config.Servers), config.Servers)
	}
	if len(config.Servers["project-tools"].Tools) != 1 || config.Servers["project-tools"].Tools[0].Name != "search_docs" {
		t.Fatalf("unexpected project-tools entry: %+v", config.Servers["project-tools"])
	}
	if len(config.Servers["agent-tools"].Tools) != 1 || config.Servers["agent-tools"].Tools[0].Name != "send_email" {
		t.Fatalf("unexpected agent-tools entry: %+v", config.Servers["agent-tools"])
	}
}

// TestAggregator_PartialFailureStillSucceeds covers P-7: a failing server
// contributes zero tools but never fails the whole aggregation.
func TestAggregator_PartialFailureStillSucceeds(t *testing.T) {
	goodSrv := toolsListServer(t, []rawTool{{Name: "ok_tool", Parameters: json.RawMessage(`{"type":"object"}`)}})
	defer goodSrv.Close()
	badSrv := unreachableServer(t)
	defer badSrv.Close()

	agg := NewAggregator(
		[]ProjectServer{
			{Name: "good", BaseURL: goodSrv.URL},
			{Name: "bad", BaseURL: badSrv.URL},
		},
		nil,
		&fakeDataSourceLister{},
		newTestLogger(),
	)

	config, err := agg.Aggregate(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("Aggregate returned error on partial failure: %v", err)
	}
	if len(config.Servers) != 2 {
		t.Fatalf("expected both servers present with bad one zeroed, got %+v", config.Servers)
	}
	if len(config.Servers["good"].Tools) != 1 {
		t.Fatalf("good server lost its tools: %+v", config.Servers["good"])
	}
	if len(config.Servers["bad"].Tools) != 0 {
		t.Fatalf("bad server should contribute zero tools, got %+v", config.Servers["bad"])
	}
}

func TestAggregator_ExternalServerSkippedWithoutConnectedGitHub(t *testing.T) {
	extSrv := toolsListServer(t, []rawTool{{Name: "list_repos"}})
	defer extSrv.Close()

	agg := NewAggregator(nil, &ExternalServer{Name: "github", URL: extSrv.URL}, &fakeDataSourceLister{}, newTestLogger())

	config, err := agg.Aggregate(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if _, ok := config.Servers["github"]; ok {
		t.Fatalf("external server should be absent without a connected github data source: %+v", config.Servers)
	}
}

func TestAggregator_ExternalServerIncludedWithConnectedGitHub(t *testing.T) {
	var sawAuth string
	extSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		tools := []rawTool{{Name: "list_repos", Parameters: json.RawMessage(`{"type":"object"}`)}}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(tools)
	}))
	defer extSrv.Close()

	config := json.RawMessage(`{"access_token":"ghp_test123"}`)
	lister := &fakeDataSourceLister{sources: []*model.DataSource{
		{ID: "ds-1", ProjectID: "proj-1", Type: model.DataSourceGitHub, Status: model.DataSourceConnected, Configuration: config},
	}}

	agg := NewAggregator(nil, &ExternalServer{Name: "github", URL: extSrv.URL}, lister, newTestLogger())

	result, err := agg.Aggregate(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	entry, ok := result.Servers["github"]
	if !ok {
		t.Fatalf("expected github server present, got %+v", result.Servers)
	}
	if len(entry.Tools) != 1 || entry.Tools[0].Name != "list_repos" {
		t.Fatalf("unexpected github tools: %+v", entry.Tools)
	}
	if sawAuth != "Bearer ghp_test123" {
		t.Fatalf("expected bearer token forwarded, got %q", sawAuth)
	}
}

func TestAggregator_NormalizesToolInputSchemas(t *testing.T) {
	srv := toolsListServer(t, []rawTool{{Name: "run_query", Parameters: json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string"}}}`)}})
	defer srv.Close()

	agg := NewAggregator([]ProjectServer{{Name: "db", BaseURL: srv.URL}}, nil, &fakeDataSourceLister{}, newTestLogger())
	result, err := agg.Aggregate(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(result.Servers["db"].Tools[0].InputSchema, &schema); err != nil {
		t.Fatalf("failed to decode normalized schema: %v", err)
	}
	if schema["additionalProperties"] != false {
		t.Fatalf("expected additionalProperties=false, got %+v", schema["additionalProperties"])
	}
	if schema["$schema"] != schemaDraftTag {
		t.Fatalf("expected draft tag stamped, got %+v", schema["$schema"])
	}
}

func TestAggregator_DefaultsMissingParameters(t *testing.T) {
	srv := toolsListServer(t, []rawTool{{Name: "no_params"}})
	defer srv.Close()

	agg := NewAggregator([]ProjectServer{{Name: "bare", BaseURL: srv.URL}}, nil, &fakeDataSourceLister{}, newTestLogger())
	result, err := agg.Aggregate(context.Background(), "proj-1", nil)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}

	var schema map[string]any
	if err := json.Unmarshal(result.Servers["bare"].Tools[0].InputSchema, &schema); err != nil {
		t.Fatalf("failed to decode default schema: %v", err)
	}
	if schema["type"] != "object" {
		t.Fatalf("expected default object schema, got %+v", schema)
	}
}
