// Package provider adapts OpenAI-compatible chat completion APIs to the
// orchestrator's streaming model port.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

type Config struct {
	APIKey string
	// BaseURL points at any OpenAI-compatible endpoint (OpenAI, OpenRouter, Ollama, ...).
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// OpenAIClient streams chat completions through go-openai.
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientConfig.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		logger: cfg.Logger,
	}
}

// Factory returns a constructor for clients that share everything but the
// credential. Delegated runs use it to build their own client.
func Factory(cfg Config) func(credential string) (orchestrator.ModelClient, error) {
	return func(credential string) (orchestrator.ModelClient, error) {
		if credential == "" {
			return nil, fmt.Errorf("no API key configured")
		}
		c := cfg
		c.APIKey = credential
		return NewOpenAIClient(c), nil
	}
}

// Stream implements orchestrator.ModelClient.
func (c *OpenAIClient) Stream(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatStream, error) {
	request := openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      lo.Map(req.Messages, func(m orchestrator.Message, _ int) openai.ChatCompletionMessage { return convertMessage(m) }),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if len(req.Tools) > 0 {
		request.Tools = lo.Map(req.Tools, func(t orchestrator.ChatTool, _ int) openai.Tool {
			return openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		})
	}

	c.logger.Debug("opening chat completion stream",
		zap.String("model", req.Model),
		zap.Int("messages", len(request.Messages)),
		zap.Int("tools", len(request.Tools)),
	)

	stream, err := c.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("failed to start chat completion: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

func convertMessage(m orchestrator.Message) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		Name:       m.Name,
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		args := tc.RawArguments
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:       tc.ID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
		})
	}
	return msg
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv returns io.EOF unchanged at the end of the stream.
func (s *openAIStream) Recv() (orchestrator.StreamChunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return orchestrator.StreamChunk{}, err
	}

	var chunk orchestrator.StreamChunk
	if resp.Usage != nil {
		chunk.Usage = &acp.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return chunk, nil
	}

	choice := resp.Choices[0]
	chunk.Content = choice.Delta.Content
	chunk.FinishReason = string(choice.FinishReason)
	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, orchestrator.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
