package providers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/chicoryai/taskrunner/internal/graph"
)

// BedrockConfig configures a BedrockGraph, grounded on
// internal/agent/providers.BedrockConfig.
type BedrockConfig struct {
	Region       string
	DefaultModel string
}

// BedrockGraph adapts the Bedrock Converse streaming API to graph.Graph.
type BedrockGraph struct {
	client *bedrockruntime.Client
	model  string
}

// NewBedrockGraph builds a BedrockGraph using the default AWS credential
// chain, grounded on internal/agent/providers.NewBedrockProvider.
func NewBedrockGraph(ctx context.Context, cfg BedrockConfig) (*BedrockGraph, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load aws config: %w", err)
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return &BedrockGraph{client: bedrockruntime.NewFromConfig(awsCfg), model: model}, nil
}

// Stream implements graph.Graph, grounded on
// internal/agent/providers.BedrockProvider.Complete/processStream's
// ConverseStream + event-channel loop.
func (g *BedrockGraph) Stream(ctx context.Context, inputs graph.Inputs, config graph.Config, cancelled graph.CancellationCheck) (<-chan graph.StreamEvent, error) {
	if cancelled != nil && cancelled(ctx) {
		ch := make(chan graph.StreamEvent)
		close(ch)
		return ch, nil
	}

	req := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(g.model),
		Messages: []types.Message{
			{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: buildPrompt(inputs)}},
			},
		},
	}

	out, err := g.client.ConverseStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}

	events := make(chan graph.StreamEvent)
	go func() {
		defer close(events)
		eventStream := out.GetStream()
		defer eventStream.Close()

		var text string
		for {
			if cancelled != nil && cancelled(ctx) {
				return
			}
			select {
			case <-ctx.Done():
				events <- graph.StreamEvent{Node: graph.NodeError, Payload: ctx.Err().Error()}
				return
			case event, ok := <-eventStream.Events():
				if !ok {
					if err := eventStream.Err(); err != nil {
						events <- graph.StreamEvent{Node: graph.NodeError, Payload: err.Error()}
						return
					}
					events <- graph.StreamEvent{Node: graph.NodeAnswer, Payload: map[string]any{"response": text}}
					return
				}
				delta, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
				if !ok {
					continue
				}
				textDelta, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
				if !ok || textDelta.Value == "" {
					continue
				}
				text += textDelta.Value
				events <- graph.StreamEvent{Node: graph.NodeGeneration, Payload: text}
			}
		}
	}()

	return events, nil
}
