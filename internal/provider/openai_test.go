package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
	"github.com/atinylittleshell/gsh-agent/internal/security"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// sseServer serves one scripted SSE response per request and keeps the
// decoded request bodies.
type sseServer struct {
	mu        sync.Mutex
	responses [][]string
	bodies    []map[string]any
	auth      []string
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	var events []string
	if len(s.responses) > 0 {
		events = s.responses[0]
		s.responses = s.responses[1:]
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func newTestClient(t *testing.T, responses ...[]string) (*OpenAIClient, *sseServer) {
	t.Helper()
	srv := &sseServer{responses: responses}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: ts.URL + "/v1"}), srv
}

var toolCallRound = []string{
	`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Let me look."}}]}`,
	`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"view_file","arguments":"{\"file_"}}]}}]}`,
	`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"path\":\"notes.txt\"}"}}]}}]}`,
	`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`,
}

func TestOpenAIClient_StreamChunks(t *testing.T) {
	client, srv := newTestClient(t, toolCallRound)

	stream, err := client.Stream(context.Background(), orchestrator.ChatRequest{
		Model: "gpt-test",
		Messages: []orchestrator.Message{
			{Role: orchestrator.RoleSystem, Content: "sys"},
			{Role: orchestrator.RoleUser, Content: "read notes"},
		},
		Tools: []orchestrator.ChatTool{{Name: "view_file", Description: "view", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var chunks []orchestrator.StreamChunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	require.Len(t, chunks, 5)
	assert.Equal(t, "Let me look.", chunks[0].Content)
	assert.Equal(t, []orchestrator.ToolCallDelta{{Index: 0, ID: "call_1", Name: "view_file", Arguments: `{"file_`}}, chunks[1].ToolCalls)
	assert.Equal(t, []orchestrator.ToolCallDelta{{Index: 0, Arguments: `path":"notes.txt"}`}}, chunks[2].ToolCalls)
	assert.Equal(t, "tool_calls", chunks[3].FinishReason)
	assert.Equal(t, &acp.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, chunks[4].Usage)

	require.Len(t, srv.bodies, 1)
	body := srv.bodies[0]
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])
	assert.Equal(t, "Bearer sk-test", srv.auth[0])

	toolsSent := body["tools"].([]any)
	require.Len(t, toolsSent, 1)
	fn := toolsSent[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "view_file", fn["name"])
}

func TestConvertMessage(t *testing.T) {
	assistant := convertMessage(orchestrator.Message{
		Role:      orchestrator.RoleAssistant,
		ToolCalls: []orchestrator.ToolCall{{ID: "call_1", Name: "todo_read"}},
	})
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "{}", assistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "todo_read", assistant.ToolCalls[0].Function.Name)

	tool := convertMessage(orchestrator.Message{Role: orchestrator.RoleTool, Content: `{"success":true}`, ToolCallID: "call_1", Name: "todo_read"})
	assert.Equal(t, "tool", tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, "todo_read", tool.Name)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer ts.Close()

	client := NewOpenAIClient(Config{APIKey: "bad", BaseURL: ts.URL + "/v1"})
	_, err := client.Stream(context.Background(), orchestrator.ChatRequest{
		Model:    "gpt-test",
		Messages: []orchestrator.Message{{Role: orchestrator.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestFactory(t *testing.T) {
	factory := Factory(Config{BaseURL: "http://localhost:1/v1"})

	_, err := factory("")
	assert.Error(t, err)

	client, err := factory("sk-child")
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestOpenAIClient_DrivesOrchestratorRun(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("remember the milk"), 0644))
	paths, err := security.NewPathValidator(security.PathConfig{WorkDir: root, HomeDir: root, AllowedRoots: []string{root}})
	require.NoError(t, err)

	client, srv := newTestClient(t,
		toolCallRound,
		[]string{`{"choices":[{"index":0,"delta":{"content":"The note says to remember the milk."},"finish_reason":"stop"}]}`},
	)

	o := orchestrator.New(orchestrator.Config{
		Client:   client,
		Registry: tools.NewRegistry(tools.NewViewFileTool(paths)),
		Model:    "gpt-test",
		Paths:    paths,
	})
	result, err := o.Run(context.Background(), "what does notes.txt say?", nil)
	require.NoError(t, err)

	assert.Equal(t, "Let me look.The note says to remember the milk.", result.Text)
	assert.Equal(t, 1, result.Evidence.TotalCalls)
	assert.True(t, result.Records[0].Success)
	assert.Equal(t, 20, result.Usage.TotalTokens)

	require.Len(t, srv.bodies, 2)
	messages := srv.bodies[1]["messages"].([]any)
	last := messages[len(messages)-1].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
	assert.Contains(t, last["content"], "remember the milk")

	assistant := messages[len(messages)-2].(map[string]any)
	calls := assistant["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, `{"file_path":"notes.txt"}`, calls[0].(map[string]any)["function"].(map[string]any)["arguments"])
}
