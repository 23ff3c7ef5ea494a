// Package orchestrator runs the agent loop: it streams model responses,
// assembles tool calls, dispatches them one at a time through the tool
// registry and the permission gate, and records every attempt.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/evidence"
	"github.com/atinylittleshell/gsh-agent/internal/permission"
	"github.com/atinylittleshell/gsh-agent/internal/security"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// DefaultMaxRounds is the round budget of a primary run when none is set.
const DefaultMaxRounds = 100

var (
	ErrRoundBudgetExceeded = errors.New("round budget exceeded")
	ErrRunInProgress       = errors.New("a run is already in progress")
)

// Mode selects between a user-facing run and a delegated subagent run.
type Mode int

const (
	ModePrimary Mode = iota
	ModeDelegated
)

func (m Mode) String() string {
	if m == ModeDelegated {
		return "delegated"
	}
	return "primary"
}

// Recorder persists tool call records outside the run, for auditing.
type Recorder interface {
	Record(ctx context.Context, runID, agent string, rec evidence.ToolCallRecord) error
}

// Config configures an Orchestrator.
type Config struct {
	Client   ModelClient
	Registry *tools.Registry
	// AllowedTools restricts the registry. Nil allows every registered tool.
	AllowedTools []tools.Name
	// Gate resolves confirmations. Nil denies every call that needs one.
	Gate      *permission.Gate
	Model     string
	MaxRounds int
	Mode      Mode
	// SystemPrompt replaces the base instructions in primary mode and is the
	// whole system prompt in delegated mode.
	SystemPrompt string
	// Paths is used to load project context in primary mode.
	Paths      *security.PathValidator
	WorkDir    string
	Credential string
	// Agent labels the run in logs and audit records.
	Agent    string
	Recorder Recorder
	Logger   *zap.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// RunResult describes a finished run, successful or not.
type RunResult struct {
	RunID      string
	Text       string
	StopReason acp.StopReason
	Evidence   evidence.Evidence
	Records    []evidence.ToolCallRecord
	Usage      acp.TokenUsage
	Rounds     int
}

// Orchestrator serves one conversation at a time. Session state (todos and
// "always allow" approvals) survives across runs; the conversation does not.
type Orchestrator struct {
	cfg     Config
	allowed []tools.Name
	gate    *permission.Gate
	todos   *tools.TodoList
	logger  *zap.Logger
	running atomic.Bool
}

func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Gate == nil {
		cfg.Gate = permission.NewGate(nil, cfg.Logger)
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.WorkDir == "" && cfg.Paths != nil {
		cfg.WorkDir = cfg.Paths.WorkDir()
	}
	if cfg.Agent == "" {
		cfg.Agent = cfg.Mode.String()
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}

	allowed := cfg.Registry.Allowed(cfg.AllowedTools)
	if cfg.Mode == ModeDelegated {
		allowed = lo.Without(allowed, tools.NameDelegate)
	}

	return &Orchestrator{
		cfg:     cfg,
		allowed: allowed,
		gate:    cfg.Gate,
		todos:   tools.NewTodoList(),
		logger:  cfg.Logger,
	}
}

// AllowedTools returns the tool names offered to the model.
func (o *Orchestrator) AllowedTools() []tools.Name {
	return append([]tools.Name(nil), o.allowed...)
}

// Todos returns the session todo list.
func (o *Orchestrator) Todos() *tools.TodoList {
	return o.todos
}

// run is the state of a single Run call.
type run struct {
	id       string
	messages []Message
	log      ExecutionLog
	text     strings.Builder
	usage    acp.TokenUsage
	rounds   int
	emit     EventHandler
}

// Run drives the agent loop for one user prompt until the model stops asking
// for tools, the round budget runs out or a fault occurs. The result is
// returned on every path, together with the terminal error if any.
func (o *Orchestrator) Run(ctx context.Context, prompt string, handler EventHandler) (*RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	if handler == nil {
		handler = func(Event) {}
	}
	r := &run{id: uuid.NewString(), emit: handler}
	r.messages = []Message{
		{Role: RoleSystem, Content: o.systemPrompt()},
		{Role: RoleUser, Content: prompt},
	}

	logger := o.logger.With(zap.String("run", r.id), zap.String("agent", o.cfg.Agent))
	logger.Info("run started",
		zap.String("mode", o.cfg.Mode.String()),
		zap.String("model", o.cfg.Model),
		zap.Int("maxRounds", o.cfg.MaxRounds),
	)

	chatTools := o.chatTools()

	for {
		if err := ctx.Err(); err != nil {
			return o.finish(r, acp.StopReasonCancelled, err, logger)
		}
		if r.rounds >= o.cfg.MaxRounds {
			err := fmt.Errorf("%w: stopped after %d rounds", ErrRoundBudgetExceeded, o.cfg.MaxRounds)
			return o.finish(r, acp.StopReasonMaxRounds, err, logger)
		}
		r.rounds++

		content, calls, err := o.streamRound(ctx, r, chatTools, logger)
		if err != nil {
			if ctx.Err() != nil {
				return o.finish(r, acp.StopReasonCancelled, ctx.Err(), logger)
			}
			return o.finish(r, acp.StopReasonError, fmt.Errorf("model stream failed: %w", err), logger)
		}

		r.messages = append(r.messages, Message{Role: RoleAssistant, Content: content, ToolCalls: calls})
		if len(calls) == 0 {
			return o.finish(r, acp.StopReasonEndTurn, nil, logger)
		}

		for _, call := range calls {
			o.dispatch(ctx, r, call, logger)
		}
	}
}

// streamRound sends the conversation and assembles the streamed response.
func (o *Orchestrator) streamRound(ctx context.Context, r *run, chatTools []ChatTool, logger *zap.Logger) (string, []ToolCall, error) {
	stream, err := o.cfg.Client.Stream(ctx, ChatRequest{
		Model:    o.cfg.Model,
		Messages: append([]Message(nil), r.messages...),
		Tools:    chatTools,
	})
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var content strings.Builder
	fragments := newFragmentBuilder()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			r.text.WriteString(chunk.Content)
			r.emit(Event{Type: EventText, Text: chunk.Content})
		}
		for _, d := range chunk.ToolCalls {
			fragments.add(d)
		}
		if chunk.Usage != nil {
			r.usage.Add(*chunk.Usage)
		}
	}

	if fragments.empty() {
		return content.String(), nil, nil
	}
	calls, dropped := fragments.finalize()
	for _, f := range dropped {
		logger.Debug("dropping incomplete tool call",
			zap.Int("index", f.index),
			zap.String("id", f.id),
			zap.String("name", f.name),
		)
	}
	return content.String(), calls, nil
}

// dispatch runs a single tool call. Every outcome, including malformed
// arguments and unknown tools, becomes a record and a tool message.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, call ToolCall, logger *zap.Logger) {
	args, decodeErr := decodeArguments(call.RawArguments)
	r.emit(Event{Type: EventToolStart, Tool: call.Name, CallID: call.ID, Args: args})

	var result tools.Result
	switch {
	case decodeErr != nil:
		result = tools.Result{
			Kind:  tools.ErrorKindValidation,
			Error: fmt.Sprintf("invalid arguments for %s: %v", call.Name, decodeErr),
		}
	default:
		result = o.execute(ctx, call, args, logger)
	}

	rec := evidence.ToolCallRecord{
		Tool:      call.Name,
		Timestamp: o.cfg.Now(),
		Success:   !result.Failed(),
		CallID:    call.ID,
	}
	r.log.Append(rec)
	if o.cfg.Recorder != nil {
		if err := o.cfg.Recorder.Record(ctx, r.id, o.cfg.Agent, rec); err != nil {
			logger.Warn("failed to record tool call", zap.String("tool", call.Name), zap.Error(err))
		}
	}

	logger.Debug("tool call finished",
		zap.String("tool", call.Name),
		zap.String("callId", call.ID),
		zap.Bool("success", rec.Success),
		zap.String("errorKind", string(result.Kind)),
	)

	r.emit(Event{Type: EventToolResult, Tool: call.Name, CallID: call.ID, Args: args, Result: &result})
	r.messages = append(r.messages, Message{
		Role:       RoleTool,
		Content:    result.JSON(),
		ToolCallID: call.ID,
		Name:       call.Name,
	})
}

func (o *Orchestrator) execute(ctx context.Context, call ToolCall, args map[string]any, logger *zap.Logger) (result tools.Result) {
	tool, err := o.cfg.Registry.Resolve(call.Name, o.allowed)
	if err != nil {
		return tools.Result{Kind: tools.ErrorKindValidation, Error: err.Error()}
	}

	if tool.RequiresConfirmation() {
		allowed, reason := o.gate.Authorize(ctx, tool, args)
		if !allowed {
			return tools.Result{
				Kind:  tools.ErrorKindSecurity,
				Error: reason,
				Data:  map[string]any{"denied": true},
			}
		}
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("tool panicked", zap.String("tool", call.Name), zap.Any("panic", p))
			result = tools.Result{
				Kind:  tools.ErrorKindExecution,
				Error: fmt.Sprintf("tool %s failed unexpectedly: %v", call.Name, p),
			}
		}
	}()

	return tool.Execute(ctx, args, &tools.ExecContext{
		Credential: o.cfg.Credential,
		WorkDir:    o.cfg.WorkDir,
		Model:      o.cfg.Model,
		Todos:      o.todos,
	})
}

// finish emits evidence followed by the terminal event and builds the result.
func (o *Orchestrator) finish(r *run, stop acp.StopReason, err error, logger *zap.Logger) (*RunResult, error) {
	records := r.log.Records()
	ev := evidence.Compute(records, o.cfg.Mode == ModeDelegated)

	r.emit(Event{Type: EventEvidence, Summary: ev.Summary})
	if err != nil {
		r.emit(Event{Type: EventError, Message: err.Error()})
		logger.Warn("run failed", zap.String("stopReason", string(stop)), zap.Int("rounds", r.rounds), zap.Error(err))
	} else {
		r.emit(Event{Type: EventDone})
		logger.Info("run finished", zap.String("stopReason", string(stop)), zap.Int("rounds", r.rounds), zap.Int("toolCalls", len(records)))
	}

	return &RunResult{
		RunID:      r.id,
		Text:       r.text.String(),
		StopReason: stop,
		Evidence:   ev,
		Records:    records,
		Usage:      r.usage,
		Rounds:     r.rounds,
	}, err
}

func (o *Orchestrator) systemPrompt() string {
	if o.cfg.Mode == ModeDelegated {
		return o.cfg.SystemPrompt
	}
	return primarySystemPrompt(o.cfg.SystemPrompt, o.cfg.Paths, o.cfg.WorkDir, o.cfg.Now(), o.logger)
}

func (o *Orchestrator) chatTools() []ChatTool {
	return lo.Map(o.cfg.Registry.Tools(o.allowed), func(t tools.Tool, _ int) ChatTool {
		return ChatTool{Name: string(t.Name()), Description: t.Description(), Parameters: t.Parameters()}
	})
}

// decodeArguments parses the accumulated argument text. Empty text and JSON
// null both mean no arguments.
func decodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
