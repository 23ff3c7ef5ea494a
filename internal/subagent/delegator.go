package subagent

import (
	"context"

	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// Delegator lets the delegate tool run subagents through a Runner.
type Delegator struct {
	runner *Runner
}

var _ tools.Delegator = (*Delegator)(nil)

func NewDelegator(runner *Runner) *Delegator {
	return &Delegator{runner: runner}
}

func (d *Delegator) Delegate(ctx context.Context, req tools.DelegateRequest) tools.DelegateResult {
	res := d.runner.Run(ctx, Request{
		Agent:      req.Agent,
		Task:       req.Task,
		Credential: req.Credential,
		Model:      req.Model,
	})
	return tools.DelegateResult{
		Success:   res.Success,
		Output:    res.Output,
		Error:     res.Error,
		Retryable: res.Retryable,
		Evidence:  res.Evidence.Summary,
		Agent:     res.Agent,
	}
}
