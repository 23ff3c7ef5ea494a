package orchestrator

import (
	"context"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a fully assembled tool call. It is only created once both the
// id and the name have arrived.
type ToolCall struct {
	ID           string
	Name         string
	RawArguments string
}

// Message is one entry of a conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	Name       string     // tool messages only
}

// ChatTool describes a tool offered to the model.
type ChatTool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is one round's request to the model.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []ChatTool
}

// ToolCallDelta is a streamed piece of a tool call. Pieces sharing an Index
// belong to the same call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamChunk is one streamed piece of a model response.
type StreamChunk struct {
	Content      string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Usage        *acp.TokenUsage
}

// ChatStream yields chunks until Recv returns io.EOF.
type ChatStream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// ModelClient is the transport to the model provider.
type ModelClient interface {
	Stream(ctx context.Context, req ChatRequest) (ChatStream, error)
}
