package toolserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/observability"
)

const (
	// projectServerTimeout is spec.md §4.1 step 1's per-project-server bound.
	projectServerTimeout = 5 * time.Second
	// externalServerTimeout is spec.md §4.1 step 2's bound for the
	// credential-gated external server.
	externalServerTimeout = 8 * time.Second
)

// ProjectServer is one configured project-scoped tool server base URL.
// Each is called at "{BaseURL}/mcp/{project_id}" (spec.md §4.1).
type ProjectServer struct {
	Name    string
	BaseURL string
}

// ExternalServer is the single external, credential-gated tool server
// (e.g. a code-hosting catalog reached over GitHub OAuth).
type ExternalServer struct {
	Name string
	URL  string
}

// DataSourceLister is the narrow slice of the data source store the
// external-server credential lookup needs.
type DataSourceLister interface {
	ListDataSources(ctx context.Context, projectID string) ([]*model.DataSource, error)
}

// fanOutResult is one server's contribution to an aggregation round.
type fanOutResult struct {
	name  string
	entry ServerEntry
}

// Aggregator implements C1: fan out to configured tool servers and merge
// their tool listings into one ToolConfig.
//
// Grounded on internal/mcp/manager.go's per-server fan-out shape,
// generalized from "maintain N persistent client connections" to "issue N
// parallel bounded-timeout requests per call", since this spec's
// aggregation happens once per task dispatch rather than once at process
// startup.
type Aggregator struct {
	ProjectServers []ProjectServer
	External       *ExternalServer
	DataSources    DataSourceLister
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer

	newClient func(timeout time.Duration) *httpClient
}

// NewAggregator builds an Aggregator.
func NewAggregator(projectServers []ProjectServer, external *ExternalServer, dataSources DataSourceLister, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		ProjectServers: projectServers,
		External:       external,
		DataSources:    dataSources,
		Logger:         logger,
		newClient:      newHTTPClient,
	}
}

// recordServerResult is a no-op when Metrics is unset.
func (a *Aggregator) recordServerResult(server string, err error) {
	if a.Metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	a.Metrics.RecordToolServerResult(server, outcome)
}

// Aggregate builds a ToolConfig for projectID, optionally scoped by
// agentTools (the agent's own tool_type="mcp" entries). Per spec.md
// §4.1's failure policy, aggregation never fails outright: servers that
// time out or error contribute zero tools and are still logged.
func (a *Aggregator) Aggregate(ctx context.Context, projectID string, agentTools []model.AgentTool) (ToolConfig, error) {
	start := time.Now()
	if a.Tracer != nil {
		var span trace.Span
		ctx, span = a.Tracer.TraceToolAggregation(ctx, projectID)
		defer span.End()
	}
	defer func() {
		if a.Metrics != nil {
			a.Metrics.RecordToolAggregation(time.Since(start).Seconds())
		}
	}()

	var wg sync.WaitGroup
	resultsCh := make(chan fanOutResult, len(a.ProjectServers)+len(agentTools)+1)

	for _, server := range a.ProjectServers {
		wg.Add(1)
		go func(server ProjectServer) {
			defer wg.Done()
			url := server.BaseURL + "/mcp/" + projectID
			ctx, cancel := context.WithTimeout(ctx, projectServerTimeout)
			defer cancel()

			tools, err := a.newClient(projectServerTimeout).ListTools(ctx, url, nil)
			if err != nil {
				a.Logger.Warn("project-scoped tool server unavailable, contributing zero tools",
					"server", server.Name, "url", url, "error", err)
			}
			a.recordServerResult(server.Name, err)
			resultsCh <- fanOutResult{name: server.Name, entry: ServerEntry{
				URL: url, Transport: "http", Tools: a.normalizeAll(server.Name, tools),
			}}
		}(server)
	}

	if a.External != nil {
		wg.Add(1)
		go func(external ExternalServer) {
			defer wg.Done()
			a.aggregateExternal(ctx, projectID, external, resultsCh)
		}(*a.External)
	}

	for _, tool := range agentTools {
		if tool.ToolType != model.AgentToolMCP || tool.ServerURL == "" {
			continue
		}
		wg.Add(1)
		go func(tool model.AgentToolType, name, url string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, projectServerTimeout)
			defer cancel()
			tools, err := a.newClient(projectServerTimeout).ListTools(ctx, url, nil)
			if err != nil {
				a.Logger.Warn("agent-scoped tool server unavailable, contributing zero tools",
					"server", name, "url", url, "error", err)
			}
			a.recordServerResult(name, err)
			resultsCh <- fanOutResult{name: name, entry: ServerEntry{
				URL: url, Transport: "http", Tools: a.normalizeAll(name, tools),
			}}
		}(tool.ToolType, tool.Name, tool.ServerURL)
	}

	wg.Wait()
	close(resultsCh)

	config := ToolConfig{Servers: make(map[string]ServerEntry)}
	for r := range resultsCh {
		if r.name == "" {
			continue
		}
		config.Servers[r.name] = r.entry
	}

	if len(config.Servers) == 0 {
		a.Logger.Warn("tool aggregation produced an empty catalog", "project_id", projectID)
	}
	return config, nil
}

// aggregateExternal implements spec.md §4.1 step 2: only include the
// external server when a connected GitHub DataSource supplies a bearer
// token. The lookup itself is not subject to the 8s timeout — only the
// subsequent tools/list call is.
func (a *Aggregator) aggregateExternal(ctx context.Context, projectID string, external ExternalServer, out chan<- fanOutResult) {
	token, ok := a.lookupGitHubToken(ctx, projectID)
	if !ok {
		a.Logger.Debug("no connected github data source, skipping external tool server",
			"project_id", projectID, "server", external.Name)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, external.URL, nil)
	if err == nil {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	headers := map[string]string{}
	if req != nil {
		headers["Authorization"] = req.Header.Get("Authorization")
	}

	ctx, cancel := context.WithTimeout(ctx, externalServerTimeout)
	defer cancel()
	tools, err := a.newClient(externalServerTimeout).ListTools(ctx, external.URL, headers)
	if err != nil {
		a.Logger.Warn("external tool server unavailable, contributing zero tools",
			"server", external.Name, "error", err)
	}
	a.recordServerResult(external.Name, err)
	out <- fanOutResult{name: external.Name, entry: ServerEntry{
		URL: external.URL, Headers: headers, Transport: "http", Tools: a.normalizeAll(external.Name, tools),
	}}
}

func (a *Aggregator) lookupGitHubToken(ctx context.Context, projectID string) (string, bool) {
	if a.DataSources == nil {
		return "", false
	}
	sources, err := a.DataSources.ListDataSources(ctx, projectID)
	if err != nil {
		a.Logger.Warn("failed to list data sources for external tool server credential lookup",
			"project_id", projectID, "error", err)
		return "", false
	}
	for _, ds := range sources {
		if ds.Type != model.DataSourceGitHub || ds.Status != model.DataSourceConnected {
			continue
		}
		var config struct {
			AccessToken string `json:"access_token"`
		}
		if err := decodeConfiguration(ds.Configuration, &config); err != nil || config.AccessToken == "" {
			continue
		}
		return config.AccessToken, true
	}
	return "", false
}

func (a *Aggregator) normalizeAll(serverName string, tools []rawTool) []Tool {
	normalized := make([]Tool, 0, len(tools))
	for _, t := range tools {
		normalized = append(normalized, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: normalizeSchema(a.Logger, serverName, t.Name, t.Parameters),
		})
	}
	return normalized
}
