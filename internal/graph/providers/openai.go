package providers

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chicoryai/taskrunner/internal/graph"
)

// OpenAIConfig configures an OpenAIGraph, grounded on
// internal/agent/providers.NewOpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
}

// OpenAIGraph adapts the Chat Completions streaming API to graph.Graph.
type OpenAIGraph struct {
	client *openai.Client
	model  string
}

// NewOpenAIGraph builds an OpenAIGraph.
func NewOpenAIGraph(cfg OpenAIConfig) (*OpenAIGraph, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIGraph{client: openai.NewClient(cfg.APIKey), model: model}, nil
}

// Stream implements graph.Graph, grounded on
// internal/agent/providers.OpenAIProvider.Complete's
// CreateChatCompletionStream + stream.Recv loop.
func (g *OpenAIGraph) Stream(ctx context.Context, inputs graph.Inputs, config graph.Config, cancelled graph.CancellationCheck) (<-chan graph.StreamEvent, error) {
	if cancelled != nil && cancelled(ctx) {
		ch := make(chan graph.StreamEvent)
		close(ch)
		return ch, nil
	}

	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(inputs)},
		},
		Stream: true,
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan graph.StreamEvent)
	go func() {
		defer close(events)
		defer stream.Close()

		var text strings.Builder
		for {
			if cancelled != nil && cancelled(ctx) {
				return
			}
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				events <- graph.StreamEvent{Node: graph.NodeError, Payload: err.Error()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			text.WriteString(delta)
			events <- graph.StreamEvent{Node: graph.NodeGeneration, Payload: text.String()}
		}
		events <- graph.StreamEvent{Node: graph.NodeAnswer, Payload: map[string]any{"response": text.String()}}
	}()

	return events, nil
}
