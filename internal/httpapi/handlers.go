package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chicoryai/taskrunner/internal/agentconfig"
	"github.com/chicoryai/taskrunner/internal/datasource"
	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/taskbroker"
)

// handlers implements spec.md §6's /projects/{pid}/... surface.
type handlers struct {
	cfg    Config
	logger *slog.Logger
}

// routes builds the mux for everything under /projects/.
func (h *handlers) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/projects/", h.dispatch)
	return mux
}

// dispatch hand-parses the path segments under /projects/ rather than
// registering one pattern per route, preferring an explicit method+shape
// switch over a third-party router dependency.
func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(strings.TrimPrefix(r.URL.Path, "/projects/"))
	if len(segments) == 0 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}
	projectID := segments[0]
	rest := segments[1:]

	if len(rest) == 1 && rest[0] == "data-sources" {
		switch r.Method {
		case http.MethodGet:
			h.listDataSources(w, r, projectID)
		case http.MethodPost:
			h.createDataSource(w, r, projectID)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(rest) < 2 || rest[0] != "agents" {
		http.NotFound(w, r)
		return
	}
	agentID := rest[1]
	tail := rest[2:]

	switch {
	case len(tail) == 0:
		if r.Method == http.MethodGet {
			h.getAgent(w, r, projectID, agentID)
			return
		}
		methodNotAllowed(w)

	case len(tail) == 1 && tail[0] == "tools":
		if r.Method == http.MethodGet {
			h.getAgentTools(w, r, projectID, agentID)
			return
		}
		methodNotAllowed(w)

	case len(tail) == 1 && tail[0] == "env-variables":
		if r.Method == http.MethodGet {
			h.getEnvVariables(w, r, projectID, agentID)
			return
		}
		methodNotAllowed(w)

	case len(tail) == 1 && tail[0] == "messages":
		if r.Method == http.MethodPost {
			h.createMessage(w, r, projectID, agentID)
			return
		}
		methodNotAllowed(w)

	case len(tail) == 1 && tail[0] == "tasks":
		if r.Method == http.MethodGet {
			h.listTasks(w, r, projectID, agentID)
			return
		}
		methodNotAllowed(w)

	case len(tail) == 2 && tail[0] == "tasks":
		taskID := tail[1]
		switch r.Method {
		case http.MethodGet:
			h.getTask(w, r, projectID, agentID, taskID)
		case http.MethodPut:
			h.updateTask(w, r, projectID, agentID, taskID)
		default:
			methodNotAllowed(w)
		}

	case len(tail) == 3 && tail[0] == "tasks" && tail[2] == "cancel":
		if r.Method == http.MethodPost {
			h.cancelTask(w, r, projectID, agentID, tail[1])
			return
		}
		methodNotAllowed(w)

	default:
		http.NotFound(w, r)
	}
}

// createMessage implements spec.md §6's
// POST /projects/{pid}/agents/{aid}/messages.
func (h *handlers) createMessage(w http.ResponseWriter, r *http.Request, projectID, agentID string) {
	var body struct {
		Content  string         `json:"content"`
		Metadata model.Metadata `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	userTask, assistantTask, err := h.cfg.Broker.CreateMessage(r.Context(), projectID, agentID, body.Content, body.Metadata)
	if err != nil {
		h.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]*model.Task{
		"user_task":      userTask,
		"assistant_task": assistantTask,
	})
}

// listTasks implements GET .../tasks?limit&status&sort_order.
func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request, projectID, agentID string) {
	opts := taskbroker.DefaultListOptions()
	q := r.URL.Query()
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}
	if status := q.Get("status"); status != "" {
		opts.StatusFilter = model.Status(status)
	}
	if sortOrder := q.Get("sort_order"); sortOrder != "" {
		opts.NewestFirst = sortOrder != "asc"
	}

	tasks, err := h.cfg.Broker.ListAgentTasks(r.Context(), projectID, agentID, opts)
	if err != nil {
		h.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request, projectID, agentID, taskID string) {
	task, err := h.cfg.Broker.GetTaskStatus(r.Context(), projectID, agentID, taskID)
	if err != nil {
		h.writeBrokerError(w, r, err)
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) updateTask(w http.ResponseWriter, r *http.Request, projectID, agentID, taskID string) {
	var body struct {
		Status  *model.Status `json:"status"`
		Content *string       `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := h.cfg.Broker.UpdateTask(r.Context(), projectID, agentID, taskID, taskbroker.TaskUpdate{
		Status:  body.Status,
		Content: body.Content,
	})
	if err != nil {
		h.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) cancelTask(w http.ResponseWriter, r *http.Request, projectID, agentID, taskID string) {
	task, err := h.cfg.Broker.CancelTask(r.Context(), projectID, agentID, taskID)
	if err != nil {
		h.writeBrokerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request, projectID, agentID string) {
	agent, err := h.cfg.Agents.Get(r.Context(), projectID, agentID)
	if err != nil {
		h.writeAgentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// getAgentTools implements GET .../tools, fanning the agent's configured
// tool references out across the project/external MCP servers via
// toolserver.Aggregator.
func (h *handlers) getAgentTools(w http.ResponseWriter, r *http.Request, projectID, agentID string) {
	agent, err := h.cfg.Agents.Get(r.Context(), projectID, agentID)
	if err != nil {
		h.writeAgentError(w, r, err)
		return
	}
	toolConfig, err := h.cfg.Aggregator.Aggregate(r.Context(), projectID, agent.Tools)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to aggregate tools: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toolConfig)
}

// getEnvVariables implements GET .../env-variables, resolving the
// agent's configured env through the project's connected data sources
// (e.g. substituting a GitHub data source's token into GITHUB_TOKEN).
func (h *handlers) getEnvVariables(w http.ResponseWriter, r *http.Request, projectID, agentID string) {
	agent, err := h.cfg.Agents.Get(r.Context(), projectID, agentID)
	if err != nil {
		h.writeAgentError(w, r, err)
		return
	}
	resolved, err := h.cfg.Credentials.Resolve(r.Context(), projectID, agent.EnvVariables)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to resolve env variables: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{"env_variables": resolved})
}

func (h *handlers) listDataSources(w http.ResponseWriter, r *http.Request, projectID string) {
	sources, err := h.cfg.DataSources.ListDataSources(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list data sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data_sources": sources})
}

// createDataSource implements POST /projects/{pid}/data-sources. A
// webfetch DataSource is ingested synchronously before being persisted,
// since its "connected" status should mean the rendered page is actually
// in the object store, not merely that the URL was recorded.
func (h *handlers) createDataSource(w http.ResponseWriter, r *http.Request, projectID string) {
	var body struct {
		Type          model.DataSourceType `json:"type"`
		Name          string               `json:"name"`
		Configuration json.RawMessage      `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := datasource.Validate(body.Type, body.Configuration); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	ds := &model.DataSource{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		Type:          body.Type,
		Name:          body.Name,
		Configuration: body.Configuration,
		Status:        model.DataSourceConfigured,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if body.Type == model.DataSourceWebfetch && h.cfg.Webfetcher != nil {
		if _, err := h.cfg.Webfetcher.Ingest(r.Context(), projectID, body.Configuration); err != nil {
			h.logger.ErrorContext(r.Context(), "webfetch ingestion failed", "project_id", projectID, "error", err)
			ds.Status = model.DataSourceError
		} else {
			ds.Status = model.DataSourceConnected
		}
	}

	if err := h.cfg.DataSources.Create(r.Context(), ds); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create data source")
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

// writeBrokerError maps a Store error to a status code. Store
// implementations signal "not found" by returning (nil, nil) from
// GetTask but a plain wrapped error from UpdateTask (see memory.go/
// postgres.go), so not-found on update/cancel is detected by message
// rather than a sentinel error.
func (h *handlers) writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	if strings.Contains(err.Error(), "not found") {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	h.logger.ErrorContext(r.Context(), "broker error", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *handlers) writeAgentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agentconfig.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	default:
		h.logger.ErrorContext(r.Context(), "agent store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
