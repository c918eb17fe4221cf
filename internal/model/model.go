// Package model defines the core entities of the task execution platform:
// projects, data sources, agents, and tasks.
package model

import (
	"encoding/json"
	"time"
)

// Project is a named scope owning data sources, agents, tasks, and an
// artifact namespace in the object store.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DataSourceType is a closed enumeration of supported data source kinds.
type DataSourceType string

const (
	DataSourceGitHub            DataSourceType = "github"
	DataSourceDatabricks        DataSourceType = "databricks"
	DataSourceSnowflake         DataSourceType = "snowflake"
	DataSourceBigQuery          DataSourceType = "bigquery"
	DataSourceS3                DataSourceType = "s3"
	DataSourceGlue              DataSourceType = "glue"
	DataSourceLooker            DataSourceType = "looker"
	DataSourceRedash            DataSourceType = "redash"
	DataSourceAtlan             DataSourceType = "atlan"
	DataSourceDataZone          DataSourceType = "datazone"
	DataSourceAnthropic         DataSourceType = "anthropic"
	DataSourceGenericFileUpload DataSourceType = "generic_file_upload"
	DataSourceCSVUpload         DataSourceType = "csv_upload"
	DataSourceXLSXUpload        DataSourceType = "xlsx_upload"
	DataSourceFolderUpload      DataSourceType = "folder_upload"
	DataSourceWebfetch          DataSourceType = "webfetch"
)

// KnownDataSourceTypes lists every DataSourceType the platform recognizes.
var KnownDataSourceTypes = []DataSourceType{
	DataSourceGitHub, DataSourceDatabricks, DataSourceSnowflake, DataSourceBigQuery,
	DataSourceS3, DataSourceGlue, DataSourceLooker, DataSourceRedash, DataSourceAtlan,
	DataSourceDataZone, DataSourceAnthropic, DataSourceGenericFileUpload,
	DataSourceCSVUpload, DataSourceXLSXUpload, DataSourceFolderUpload, DataSourceWebfetch,
}

// Valid reports whether t is one of the closed set of known types.
func (t DataSourceType) Valid() bool {
	for _, known := range KnownDataSourceTypes {
		if known == t {
			return true
		}
	}
	return false
}

// DataSourceStatus tracks the connection lifecycle of a DataSource.
type DataSourceStatus string

const (
	DataSourceConfigured DataSourceStatus = "configured"
	DataSourceConnected  DataSourceStatus = "connected"
	DataSourceError      DataSourceStatus = "error"
)

// DataSource is bound to a project and describes one external system the
// agent's tools may reach into. Configuration is an opaque mapping whose
// schema is per-type; see internal/datasource for the per-variant structs.
type DataSource struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"project_id"`
	Type          DataSourceType   `json:"type"`
	Name          string           `json:"name"`
	Configuration json.RawMessage  `json:"configuration"`
	Status        DataSourceStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// OutputFormat is a closed enumeration of assistant response encodings.
type OutputFormat string

const (
	OutputFormatText     OutputFormat = "text"
	OutputFormatJSON     OutputFormat = "json"
	OutputFormatMarkdown OutputFormat = "markdown"
)

// AgentToolType distinguishes an agent-scoped tool server entry.
type AgentToolType string

const (
	AgentToolMCP AgentToolType = "mcp"
)

// AgentTool is one agent-scoped tool-server reference, defined directly on
// the agent rather than discovered from a project-level configuration.
type AgentTool struct {
	ToolType  AgentToolType `json:"tool_type"`
	ServerURL string        `json:"server_url"`
	Name      string        `json:"name"`
}

// Agent is a user-configured persona bound to a project: a system prompt,
// an output format, and the tools/environment it runs with.
type Agent struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Instructions  string            `json:"instructions"`
	OutputFormat  OutputFormat      `json:"output_format"`
	Tools         []AgentTool       `json:"tools"`
	EnvVariables  map[string]string `json:"env_variables"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Role distinguishes a user message from its paired assistant response.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the task state machine from spec.md §4.3. The five states here
// are authoritative; there is no second, shadow enumeration.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s is one of the three states no further
// transition may leave (T-2, P-4).
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Metadata carries the optional per-task routing/checkpoint fields from
// spec.md §3 and the work-queue wire format in §6.
type Metadata struct {
	ThreadID          string `json:"thread_id,omitempty"`
	CheckpointNS      string `json:"checkpoint_ns,omitempty"`
	CheckpointID      string `json:"checkpoint_id,omitempty"`
	Stream            *bool  `json:"stream,omitempty"`
	OverrideProjectID string `json:"override_project_id,omitempty"`
}

// WantsStream reports whether streaming is requested, defaulting to true
// per the wire format's documented default.
func (m Metadata) WantsStream() bool {
	return m.Stream == nil || *m.Stream
}

// Task is the unit of work: a user message or its paired assistant
// response. Invariant T-1: every user task has exactly one assistant task
// sharing (ProjectID, AgentID) and a stable PairKey.
type Task struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AgentID   string    `json:"agent_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	PairKey   string    `json:"pair_key"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssistantContent is the JSON document carried in an assistant task's
// Content field, per spec.md §3 and §7.
type AssistantContent struct {
	Response     string `json:"response"`
	Cancelled    bool   `json:"cancelled,omitempty"`
	Error        bool   `json:"error,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// CancelledMessage is the canonical response text for a cancelled task,
// checked verbatim by terminal classification (spec.md §4.4.3).
const CancelledMessage = "Task was cancelled by user."

// FailedMessage is the canonical response text for an empty-generation
// failure (spec.md §4.4.3 / scenario 6).
const FailedMessage = "Failed to generate response"
