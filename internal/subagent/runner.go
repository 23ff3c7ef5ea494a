package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/evidence"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
	"github.com/atinylittleshell/gsh-agent/internal/permission"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// DefaultTimeout bounds a delegated run when the request sets no timeout.
const DefaultTimeout = 5 * time.Minute

const (
	maxArgsSummary   = 80
	maxResultPreview = 200
	previewLines     = 3
)

var (
	ErrMissingCredential = errors.New("no model credential is available for the subagent")
	ErrTimeout           = errors.New("subagent timed out")
)

// ClientFactory builds the model client of a delegated run.
type ClientFactory func(credential string) (orchestrator.ModelClient, error)

type RunnerConfig struct {
	Loader *Loader
	// Registry holds the tool handlers. The definition decides which are allowed.
	Registry      *tools.Registry
	ClientFactory ClientFactory
	WorkDir       string
	// Timeout overrides DefaultTimeout for requests without their own.
	Timeout   time.Duration
	Confirmer permission.Confirmer
	Recorder  orchestrator.Recorder
	Logger    *zap.Logger
}

type Runner struct {
	cfg    RunnerConfig
	logger *zap.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{cfg: cfg, logger: cfg.Logger}
}

type Request struct {
	Agent      string
	Task       string
	Credential string
	// Model overrides the definition's model.
	Model   string
	Timeout time.Duration
	// Confirmer overrides the runner's confirmer.
	Confirmer permission.Confirmer
}

// TraceEntry is one tool call seen in a delegated run.
type TraceEntry struct {
	Tool          string
	CallID        string
	ArgsSummary   string
	Success       bool
	ResultPreview string
	Completed     bool
}

func (e TraceEntry) Status() acp.ToolCallStatus {
	switch {
	case !e.Completed:
		return acp.ToolCallStatusPending
	case e.Success:
		return acp.ToolCallStatusCompleted
	default:
		return acp.ToolCallStatusFailed
	}
}

type Result struct {
	Success   bool
	Output    string
	Error     string
	Retryable bool
	Trace     []TraceEntry
	Evidence  evidence.Evidence
	Agent     string
	Duration  time.Duration
}

// Run executes one delegated task. It never returns nil; failures are
// described by the result.
func (r *Runner) Run(ctx context.Context, req Request) *Result {
	start := time.Now()
	result := &Result{Agent: ResolveAlias(req.Agent)}
	fail := func(err error, retryable bool) *Result {
		result.Success = false
		result.Error = err.Error()
		result.Retryable = retryable
		result.Duration = time.Since(start)
		r.logger.Info("subagent failed", zap.String("agent", result.Agent), zap.Error(err))
		return result
	}

	if req.Credential == "" {
		return fail(ErrMissingCredential, false)
	}

	def, err := r.cfg.Loader.Load(req.Agent)
	if err != nil {
		return fail(err, false)
	}
	result.Agent = def.Name()

	client, err := r.cfg.ClientFactory(req.Credential)
	if err != nil {
		return fail(fmt.Errorf("failed to create model client: %w", err), false)
	}

	model := lo.Ternary(req.Model != "", req.Model, def.Model())
	timeout := lo.Ternary(req.Timeout > 0, req.Timeout, r.cfg.Timeout)
	confirmer := lo.Ternary(req.Confirmer != nil, req.Confirmer, r.cfg.Confirmer)

	orch := orchestrator.New(orchestrator.Config{
		Client:       client,
		Registry:     r.cfg.Registry,
		AllowedTools: lo.Without(def.Tools(), tools.NameDelegate),
		Gate:         permission.NewGate(confirmer, r.logger),
		Model:        model,
		MaxRounds:    def.MaxRounds(),
		Mode:         orchestrator.ModeDelegated,
		SystemPrompt: def.Prompt(),
		WorkDir:      r.cfg.WorkDir,
		Credential:   req.Credential,
		Agent:        def.Name(),
		Recorder:     r.cfg.Recorder,
		Logger:       r.logger,
	})

	r.logger.Info("subagent started",
		zap.String("agent", def.Name()),
		zap.String("model", model),
		zap.Duration("timeout", timeout),
	)

	tr := newTracer()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		res *orchestrator.RunResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("subagent %s crashed: %v", def.Name(), p)}
			}
		}()
		res, err := orch.Run(runCtx, req.Task, tr.handle)
		done <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var runErr error
	var retryable bool
	select {
	case o := <-done:
		runErr = o.err
		if o.res != nil {
			result.Evidence = o.res.Evidence
		}
		retryable = runErr != nil && !errors.Is(runErr, orchestrator.ErrRoundBudgetExceeded)
		if runErr != nil && ctx.Err() != nil {
			runErr = fmt.Errorf("subagent %s cancelled: %w", def.Name(), ctx.Err())
			retryable = false
		}
	case <-timer.C:
		// The nested run is abandoned, not awaited; tools it already started
		// may still finish.
		cancel()
		runErr = fmt.Errorf("%w after %s", ErrTimeout, timeout)
		retryable = true
	case <-ctx.Done():
		cancel()
		runErr = fmt.Errorf("subagent %s cancelled: %w", def.Name(), ctx.Err())
	}

	text, trace := tr.snapshot()
	result.Trace = trace
	result.Output = formatOutput(text, trace)
	if result.Evidence.Summary == "" {
		result.Evidence = evidence.Compute(traceRecords(trace), true)
	}

	if runErr != nil {
		return fail(runErr, retryable)
	}
	result.Success = true
	result.Duration = time.Since(start)
	r.logger.Info("subagent finished",
		zap.String("agent", result.Agent),
		zap.Int("toolCalls", len(trace)),
		zap.Duration("duration", result.Duration),
	)
	return result
}

// tracer collects streamed text and tool calls. Events arrive on the run's
// goroutine while the caller may read after a timeout, hence the lock.
type tracer struct {
	mu      sync.Mutex
	text    strings.Builder
	entries []TraceEntry
	byID    map[string]int
}

func newTracer() *tracer {
	return &tracer{byID: make(map[string]int)}
}

func (t *tracer) handle(e orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Type {
	case orchestrator.EventText:
		t.text.WriteString(e.Text)
	case orchestrator.EventToolStart:
		t.byID[e.CallID] = len(t.entries)
		t.entries = append(t.entries, TraceEntry{
			Tool:        e.Tool,
			CallID:      e.CallID,
			ArgsSummary: summarizeArgs(e.Args),
		})
	case orchestrator.EventToolResult:
		idx, ok := t.byID[e.CallID]
		if !ok {
			idx = len(t.entries)
			t.entries = append(t.entries, TraceEntry{Tool: e.Tool, CallID: e.CallID, ArgsSummary: summarizeArgs(e.Args)})
		}
		delete(t.byID, e.CallID)
		entry := &t.entries[idx]
		entry.Completed = true
		if e.Result != nil {
			entry.Success = !e.Result.Failed()
			entry.ResultPreview = preview(*e.Result)
		}
	}
}

func (t *tracer) snapshot() (string, []TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String(), append([]TraceEntry(nil), t.entries...)
}

func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprint(args)
	}
	return truncate(string(b), maxArgsSummary)
}

func preview(res tools.Result) string {
	text := res.Output
	if res.Failed() && res.Error != "" {
		text = res.Error
	}
	return truncate(strings.TrimSpace(text), maxResultPreview)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func formatOutput(text string, trace []TraceEntry) string {
	text = strings.TrimSpace(text)
	if len(trace) == 0 {
		return text
	}

	var b strings.Builder
	if text != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Tool calls (%d):", len(trace))
	for _, e := range trace {
		fmt.Fprintf(&b, "\n%s %s %s", e.Status().Glyph(), e.Tool, e.ArgsSummary)
		if e.ResultPreview == "" {
			continue
		}
		lines := strings.Split(e.ResultPreview, "\n")
		for _, line := range lo.Subset(lines, 0, previewLines) {
			b.WriteString("\n    " + line)
		}
		if len(lines) > previewLines {
			b.WriteString("\n    ...")
		}
	}
	return b.String()
}

// traceRecords converts completed trace entries into records so an abandoned
// run still gets evidence.
func traceRecords(trace []TraceEntry) []evidence.ToolCallRecord {
	completed := lo.Filter(trace, func(e TraceEntry, _ int) bool { return e.Completed })
	return lo.Map(completed, func(e TraceEntry, _ int) evidence.ToolCallRecord {
		return evidence.ToolCallRecord{Tool: e.Tool, CallID: e.CallID, Success: e.Success}
	})
}
