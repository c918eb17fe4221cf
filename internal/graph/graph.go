// Package graph defines the reasoning-graph contract invoked by
// internal/worker: an async streaming interface over a multi-node
// pipeline, described but not implemented by spec.md §1 ("we describe
// only the contract"). internal/graph/providers supplies reference
// adapters against real LLM SDKs.
package graph

import "context"

// NodeKind names one stage of the reasoning graph's pipeline. The set is
// open — an adapter may emit a NodeKind not listed here, and the worker's
// streaming loop falls back to a generic display label for it (spec.md
// §8's "unknown node name" edge case).
type NodeKind string

const (
	NodeQuestion       NodeKind = "question"
	NodeBreakdown      NodeKind = "breakdown"
	NodeDataSummary    NodeKind = "data_summary"
	NodeDocuments      NodeKind = "documents"
	NodeRelatedContext NodeKind = "related_context"
	NodeGeneration     NodeKind = "generation"
	NodeError          NodeKind = "error"
	NodeAnswer         NodeKind = "answer"
)

// StreamEvent is one `{node_name: node_value}` emission from the graph.
type StreamEvent struct {
	Node    NodeKind
	Payload any
}

// Inputs is the graph's question/context input, built by the worker at
// spec.md §4.4 step 7.
type Inputs struct {
	Question     string
	ContextFlag  bool
	Context      string
	OutputFormat string
}

// Configurable is the `config.configurable` object from spec.md §4.4 step
// 7, carrying per-invocation routing, checkpoint, and credential state.
type Configurable struct {
	ThreadID          string
	AssistantTaskID   string
	Project           string
	EnvVariables      map[string]string
	OverrideProjectID string
	CheckpointNS      string
	CheckpointID      string
}

// Config wraps Configurable with the recursion-depth budget (spec.md §5's
// 50-150 default range).
type Config struct {
	RecursionLimit int
	Configurable   Configurable
}

// CancellationCheck is polled by the graph between node emissions and
// before starting the stream (spec.md §4.4.1). It must return true once
// the backing task has been observed CANCELLED.
type CancellationCheck func(ctx context.Context) bool

// Graph is the reasoning-graph contract: an async iterator of node
// emissions, cooperatively cancellable via the supplied check.
//
// Implementations must stop emitting and close the returned channel
// promptly once cancelled returns true; this is a best-effort contract
// (spec.md §4.4.1: "Close the stream generator (best-effort)"), not a
// guarantee against a single in-flight emission racing past the check.
type Graph interface {
	Stream(ctx context.Context, inputs Inputs, config Config, cancelled CancellationCheck) (<-chan StreamEvent, error)
}
