package tools

import (
	"context"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
)

// DelegateRequest asks a named subagent to perform a task.
type DelegateRequest struct {
	Agent      string
	Task       string
	Model      string
	Credential string
}

// DelegateResult is the outcome of a delegated run.
type DelegateResult struct {
	Success   bool
	Output    string
	Error     string
	Retryable bool
	// Evidence is the delegated run's own evidence summary.
	Evidence string
	Agent    string
}

// Delegator runs subagents. It is implemented outside this package so the
// tools do not depend on the agent loop.
type Delegator interface {
	Delegate(ctx context.Context, req DelegateRequest) DelegateResult
}

type DelegateTool struct {
	delegator Delegator
}

func NewDelegateTool(d Delegator) *DelegateTool {
	return &DelegateTool{delegator: d}
}

func (t *DelegateTool) Name() Name                 { return NameDelegate }
func (t *DelegateTool) Kind() acp.ToolKind         { return acp.ToolKindDelegate }
func (t *DelegateTool) RequiresConfirmation() bool { return false }

func (t *DelegateTool) Description() string {
	return "Delegate a self-contained task to a specialized subagent (for example code-reviewer, test-runner, explorer). The subagent runs with its own restricted tools and returns its output and a trace of the tools it used."
}

func (t *DelegateTool) Parameters() map[string]any {
	return schema([]string{"agent", "task"}, map[string]any{
		"agent": prop("string", "Subagent name or alias (review, test, explore, docs, debug)"),
		"task":  prop("string", "Complete, self-contained description of the task"),
		"model": prop("string", "Optional model override for the subagent"),
	})
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	agent, bad := requiredString(args, NameDelegate, "agent")
	if bad != nil {
		return *bad
	}
	task, bad := requiredString(args, NameDelegate, "task")
	if bad != nil {
		return *bad
	}
	model, _ := stringArg(args, "model")

	req := DelegateRequest{Agent: agent, Task: task, Model: model}
	if ec != nil {
		req.Credential = ec.Credential
	}

	res := t.delegator.Delegate(ctx, req)
	data := map[string]any{
		"agent":     res.Agent,
		"retryable": res.Retryable,
	}
	if res.Evidence != "" {
		data["evidence"] = res.Evidence
	}

	if !res.Success {
		return Result{Success: false, Kind: ErrorKindDelegation, Output: res.Output, Error: res.Error, Data: data}
	}
	return Result{Success: true, Output: res.Output, Data: data}
}
