package subagent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

type stubTool struct {
	name   tools.Name
	output string
	mu     sync.Mutex
	calls  int
}

func (s *stubTool) Name() tools.Name           { return s.name }
func (s *stubTool) Description() string        { return "stub " + string(s.name) }
func (s *stubTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *stubTool) RequiresConfirmation() bool { return false }
func (s *stubTool) Kind() acp.ToolKind         { return acp.ToolKindOther }
func (s *stubTool) Execute(ctx context.Context, args map[string]any, ec *tools.ExecContext) tools.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return tools.Result{Success: true, Output: s.output}
}

func (s *stubTool) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingDelegator struct {
	calls int
}

func (c *countingDelegator) Delegate(ctx context.Context, req tools.DelegateRequest) tools.DelegateResult {
	c.calls++
	return tools.DelegateResult{Success: true, Output: "nested"}
}

// blockingStream never yields a chunk; it ends only when ctx is cancelled.
type blockingStream struct {
	ctx context.Context
}

func (b *blockingStream) Recv() (orchestrator.StreamChunk, error) {
	<-b.ctx.Done()
	return orchestrator.StreamChunk{}, b.ctx.Err()
}

func (b *blockingStream) Close() error { return nil }

type runnerFixture struct {
	runner    *Runner
	viewFile  *stubTool
	grep      *stubTool
	delegator *countingDelegator
	client    *orchestrator.MockClient
	factory   []string
}

func newRunnerFixture(t *testing.T, client *orchestrator.MockClient) *runnerFixture {
	t.Helper()
	root := t.TempDir()
	writeDefinition(t, root, "explorer", definitionFor("explorer", "small-model"))

	f := &runnerFixture{
		viewFile:  &stubTool{name: tools.NameViewFile, output: "line one\nline two\nline three\nline four"},
		grep:      &stubTool{name: tools.NameGrep, output: "main.go:1:package main"},
		delegator: &countingDelegator{},
		client:    client,
	}
	registry := tools.NewRegistry(f.viewFile, f.grep, tools.NewDelegateTool(f.delegator))
	f.runner = NewRunner(RunnerConfig{
		Loader:   NewLoaderWithRoots([]string{root}, nil),
		Registry: registry,
		ClientFactory: func(credential string) (orchestrator.ModelClient, error) {
			f.factory = append(f.factory, credential)
			return client, nil
		},
		WorkDir: root,
	})
	return f
}

func TestRunner_Success(t *testing.T) {
	client := orchestrator.NewMockClient(
		[]orchestrator.StreamChunk{
			orchestrator.ToolCallChunk(0, "call_1", "view_file", `{"file_path":"main.go"}`),
			orchestrator.ToolCallChunk(1, "call_2", "grep", `{"pattern":"main"}`),
		},
		[]orchestrator.StreamChunk{orchestrator.TextChunk("Found the entry point.")},
	)
	f := newRunnerFixture(t, client)

	res := f.runner.Run(context.Background(), Request{Agent: "explore", Task: "find main", Credential: "sk-child"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "explorer", res.Agent)
	assert.Equal(t, []string{"sk-child"}, f.factory)
	assert.Equal(t, 2, res.Evidence.TotalCalls)

	require.Len(t, res.Trace, 2)
	assert.Equal(t, TraceEntry{
		Tool:          "view_file",
		CallID:        "call_1",
		ArgsSummary:   `{"file_path":"main.go"}`,
		Success:       true,
		ResultPreview: "line one\nline two\nline three\nline four",
		Completed:     true,
	}, res.Trace[0])
	assert.Equal(t, "call_2", res.Trace[1].CallID)

	assert.True(t, strings.HasPrefix(res.Output, "Found the entry point.\n\nTool calls (2):"))
	assert.Contains(t, res.Output, "✓ view_file {\"file_path\":\"main.go\"}\n    line one\n    line two\n    line three\n    ...")
	assert.Contains(t, res.Output, "✓ grep {\"pattern\":\"main\"}\n    main.go:1:package main")

	reqs := client.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "small-model", reqs[0].Model)
	assert.Equal(t, "You are explorer.", reqs[0].Messages[0].Content)
	assert.Equal(t, "find main", reqs[0].Messages[1].Content)
	names := make([]string, 0, len(reqs[0].Tools))
	for _, tool := range reqs[0].Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"view_file", "grep"}, names)
}

func TestRunner_ModelOverride(t *testing.T) {
	client := orchestrator.NewMockClient([]orchestrator.StreamChunk{orchestrator.TextChunk("done")})
	f := newRunnerFixture(t, client)

	res := f.runner.Run(context.Background(), Request{Agent: "explorer", Task: "t", Credential: "k", Model: "big-model"})
	require.True(t, res.Success)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, "big-model", client.Requests()[0].Model)
}

func TestRunner_CannotDelegate(t *testing.T) {
	client := orchestrator.NewMockClient(
		[]orchestrator.StreamChunk{
			orchestrator.ToolCallChunk(0, "call_1", "delegate", `{"agent":"explorer","task":"recurse"}`),
		},
		[]orchestrator.StreamChunk{orchestrator.TextChunk("I could not delegate.")},
	)
	f := newRunnerFixture(t, client)

	res := f.runner.Run(context.Background(), Request{Agent: "explorer", Task: "t", Credential: "k"})

	require.True(t, res.Success)
	assert.Equal(t, 0, f.delegator.calls)
	require.Len(t, res.Trace, 1)
	assert.False(t, res.Trace[0].Success)
	assert.Contains(t, res.Trace[0].ResultPreview, `tool "delegate" is not available`)
	assert.Equal(t, 1, res.Evidence.DelegateAttempts)
	assert.Equal(t, 0, res.Evidence.SuccessfulDelegateCount)
	assert.Contains(t, res.Evidence.Summary, "Delegations: 0 (subagents cannot delegate)")
	assert.Contains(t, res.Output, "✗ delegate")
}

func TestRunner_TimeoutKeepsTrace(t *testing.T) {
	var mu sync.Mutex
	round := 0
	client := &orchestrator.MockClient{}
	client.StreamFunc = func(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatStream, error) {
		mu.Lock()
		defer mu.Unlock()
		round++
		if round == 1 {
			return orchestrator.NewMockStream(
				orchestrator.TextChunk("Looking around."),
				orchestrator.ToolCallChunk(0, "call_1", "grep", `{"pattern":"TODO"}`),
			), nil
		}
		return &blockingStream{ctx: ctx}, nil
	}
	f := newRunnerFixture(t, client)

	start := time.Now()
	res := f.runner.Run(context.Background(), Request{
		Agent:      "explorer",
		Task:       "t",
		Credential: "k",
		Timeout:    100 * time.Millisecond,
	})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)
	assert.True(t, strings.HasPrefix(res.Error, ErrTimeout.Error()))
	assert.Equal(t, 1, f.grep.callCount())

	require.Len(t, res.Trace, 1)
	assert.Equal(t, "call_1", res.Trace[0].CallID)
	assert.True(t, res.Trace[0].Completed)
	assert.True(t, res.Trace[0].Success)
	assert.Equal(t, 1, res.Evidence.TotalCalls)
	assert.Contains(t, res.Output, "Looking around.")
	assert.Contains(t, res.Output, "Tool calls (1):")
}

func TestRunner_ParentCancellation(t *testing.T) {
	client := &orchestrator.MockClient{}
	client.StreamFunc = func(ctx context.Context, req orchestrator.ChatRequest) (orchestrator.ChatStream, error) {
		return &blockingStream{ctx: ctx}, nil
	}
	f := newRunnerFixture(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := f.runner.Run(ctx, Request{Agent: "explorer", Task: "t", Credential: "k"})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Error, "cancelled")
}

func TestRunner_RoundBudgetIsNotRetryable(t *testing.T) {
	root := t.TempDir()
	writeDefinition(t, root, "looper", "---\nname: looper\ntools: [grep]\nmodel: m\nmax_rounds: 1\n---\nLoop.\n")

	client := orchestrator.NewMockClient(
		[]orchestrator.StreamChunk{orchestrator.ToolCallChunk(0, "call_1", "grep", `{}`)},
		[]orchestrator.StreamChunk{orchestrator.ToolCallChunk(0, "call_2", "grep", `{}`)},
	)
	runner := NewRunner(RunnerConfig{
		Loader:        NewLoaderWithRoots([]string{root}, nil),
		Registry:      tools.NewRegistry(&stubTool{name: tools.NameGrep}),
		ClientFactory: func(string) (orchestrator.ModelClient, error) { return client, nil },
	})

	res := runner.Run(context.Background(), Request{Agent: "looper", Task: "t", Credential: "k"})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
	assert.Contains(t, res.Error, "round budget exceeded")
	assert.Len(t, res.Trace, 1)
}

func TestRunner_Failures(t *testing.T) {
	client := orchestrator.NewMockClient()

	t.Run("missing credential", func(t *testing.T) {
		f := newRunnerFixture(t, client)
		res := f.runner.Run(context.Background(), Request{Agent: "explorer", Task: "t"})
		assert.False(t, res.Success)
		assert.False(t, res.Retryable)
		assert.Equal(t, ErrMissingCredential.Error(), res.Error)
		assert.Empty(t, f.factory)
	})

	t.Run("unknown agent", func(t *testing.T) {
		f := newRunnerFixture(t, client)
		res := f.runner.Run(context.Background(), Request{Agent: "nobody", Task: "t", Credential: "k"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, ErrNotFound.Error())
		assert.Empty(t, f.factory)
	})

	t.Run("client factory error", func(t *testing.T) {
		f := newRunnerFixture(t, client)
		f.runner.cfg.ClientFactory = func(string) (orchestrator.ModelClient, error) {
			return nil, errors.New("no route to model")
		}
		res := f.runner.Run(context.Background(), Request{Agent: "explorer", Task: "t", Credential: "k"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "no route to model")
	})

	t.Run("stream error is retryable", func(t *testing.T) {
		failing := &orchestrator.MockClient{StreamErr: errors.New("503 from upstream")}
		f := newRunnerFixture(t, failing)
		res := f.runner.Run(context.Background(), Request{Agent: "explorer", Task: "t", Credential: "k"})
		assert.False(t, res.Success)
		assert.True(t, res.Retryable)
		assert.Contains(t, res.Error, "503 from upstream")
	})
}

func TestDelegator(t *testing.T) {
	client := orchestrator.NewMockClient([]orchestrator.StreamChunk{orchestrator.TextChunk("explored")})
	f := newRunnerFixture(t, client)

	res := NewDelegator(f.runner).Delegate(context.Background(), tools.DelegateRequest{Agent: "explore", Task: "t", Credential: "k"})
	assert.True(t, res.Success)
	assert.Equal(t, "explorer", res.Agent)
	assert.Equal(t, "explored", res.Output)
	assert.Contains(t, res.Evidence, "Total tool calls: 0")

	tool := tools.NewDelegateTool(NewDelegator(f.runner))
	out := tool.Execute(context.Background(), map[string]any{"agent": "explore", "task": "t"}, &tools.ExecContext{})
	assert.False(t, out.Success)
	assert.Equal(t, tools.ErrorKindDelegation, out.Kind)
	assert.Equal(t, ErrMissingCredential.Error(), out.Error)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
	assert.Equal(t, "héllo w...", truncate("héllo wörld!", 10))
}
