// Package providers supplies reference graph.Graph adapters over real LLM
// SDKs. They are reference implementations, not the reasoning graph itself
// (the actual multi-node pipeline is explicitly out of CORE scope per
// spec.md §1); each adapter collapses the pipeline to the two nodes every
// adapter can honestly produce from a single completion call: a streaming
// "generation" node followed by a terminal "answer" node.
package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chicoryai/taskrunner/internal/graph"
)

// AnthropicConfig configures an AnthropicGraph, grounded on
// internal/agent/providers.AnthropicConfig.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
}

// AnthropicGraph adapts the Anthropic Messages streaming API to
// graph.Graph.
type AnthropicGraph struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicGraph builds an AnthropicGraph, grounded on
// internal/agent/providers.NewAnthropicProvider's client-construction
// pattern.
func NewAnthropicGraph(cfg AnthropicConfig) (*AnthropicGraph, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicGraph{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Stream implements graph.Graph.
func (g *AnthropicGraph) Stream(ctx context.Context, inputs graph.Inputs, config graph.Config, cancelled graph.CancellationCheck) (<-chan graph.StreamEvent, error) {
	if cancelled != nil && cancelled(ctx) {
		ch := make(chan graph.StreamEvent)
		close(ch)
		return ch, nil
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(inputs))),
		},
	}

	stream := g.client.Messages.NewStreaming(ctx, params)
	events := make(chan graph.StreamEvent)

	go func() {
		defer close(events)
		var text strings.Builder
		for stream.Next() {
			if cancelled != nil && cancelled(ctx) {
				return
			}
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" || delta.Text == "" {
				continue
			}
			text.WriteString(delta.Text)
			events <- graph.StreamEvent{Node: graph.NodeGeneration, Payload: text.String()}
		}
		if err := stream.Err(); err != nil {
			events <- graph.StreamEvent{Node: graph.NodeError, Payload: err.Error()}
			return
		}
		events <- graph.StreamEvent{Node: graph.NodeAnswer, Payload: map[string]any{"response": text.String()}}
	}()

	return events, nil
}

func buildPrompt(inputs graph.Inputs) string {
	if !inputs.ContextFlag || inputs.Context == "" {
		return inputs.Question
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", inputs.Context, inputs.Question)
}
