package tools

import (
	"time"

	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/security"
)

// Deps are the collaborators needed by the native tools.
type Deps struct {
	Paths    *security.PathValidator
	Commands *security.CommandValidator
	// Delegator enables the delegate tool when set.
	Delegator   Delegator
	ExecTimeout time.Duration
	Logger      *zap.Logger
}

// NewDefaultRegistry registers every native tool that deps can support.
func NewDefaultRegistry(deps Deps) *Registry {
	r := NewRegistry(
		NewViewFileTool(deps.Paths),
		NewWriteFileTool(deps.Paths),
		NewEditFileTool(deps.Paths),
		NewListFilesTool(deps.Paths),
		NewGrepTool(deps.Paths),
		NewExecTool(deps.Commands, deps.ExecTimeout, deps.Logger),
		NewTodoReadTool(),
		NewTodoWriteTool(),
	)
	if deps.Delegator != nil {
		r.Register(NewDelegateTool(deps.Delegator))
	}
	return r
}
