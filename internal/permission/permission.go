// Package permission decides whether a tool call needs interactive
// confirmation and resolves it through an injected confirmer.
package permission

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/security"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// Choice is the answer to a confirmation request.
type Choice int

const (
	ChoiceDeny Choice = iota
	ChoiceAllowOnce
	ChoiceAlwaysAllow
)

func (c Choice) String() string {
	switch c {
	case ChoiceAllowOnce:
		return "allow_once"
	case ChoiceAlwaysAllow:
		return "always_allow"
	default:
		return "deny"
	}
}

type Option struct {
	Choice Choice
	Label  string
}

// Request is what a confirmer is asked to decide.
type Request struct {
	Tool    tools.Name
	Args    map[string]any
	Prompt  string
	Options []Option
}

// Confirmer resolves confirmation requests, usually by asking the user.
type Confirmer interface {
	Confirm(ctx context.Context, req Request) (Choice, error)
}

// ConfirmFunc adapts a plain (tool, args) -> bool decision function.
type ConfirmFunc func(tool string, args map[string]any) bool

func (f ConfirmFunc) Confirm(ctx context.Context, req Request) (Choice, error) {
	if f(string(req.Tool), req.Args) {
		return ChoiceAllowOnce, nil
	}
	return ChoiceDeny, nil
}

type denyAll struct{}

func (denyAll) Confirm(context.Context, Request) (Choice, error) { return ChoiceDeny, nil }

// DenyAll is used when no confirmation channel is attached.
var DenyAll Confirmer = denyAll{}

type allowAll struct{}

func (allowAll) Confirm(context.Context, Request) (Choice, error) { return ChoiceAllowOnce, nil }

// AllowAll approves everything. It backs the CLI's explicit auto-approve flag.
var AllowAll Confirmer = allowAll{}

// Decision describes whether a call must be confirmed and how to ask.
type Decision struct {
	NeedsConfirmation bool
	Prompt            string
	Options           []Option
	// SessionKey identifies what an "always allow" answer applies to.
	SessionKey string
}

// Gate holds the confirmer and the approvals granted during one session.
type Gate struct {
	mu        sync.Mutex
	confirmer Confirmer
	approved  map[string]bool
	commands  *security.CommandValidator
	logger    *zap.Logger
}

// NewGate creates a gate. A nil confirmer denies every confirmation.
func NewGate(confirmer Confirmer, logger *zap.Logger) *Gate {
	if confirmer == nil {
		confirmer = DenyAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		confirmer: confirmer,
		approved:  make(map[string]bool),
		commands:  security.NewCommandValidator(nil),
		logger:    logger,
	}
}

// Check reports whether calling tool with args needs confirmation.
func (g *Gate) Check(tool tools.Tool, args map[string]any) Decision {
	if !tool.RequiresConfirmation() {
		return Decision{}
	}

	key, scope := g.sessionKey(tool.Name(), args)

	g.mu.Lock()
	approved := key != "" && g.approved[key]
	g.mu.Unlock()
	if approved {
		return Decision{SessionKey: key}
	}

	options := []Option{{Choice: ChoiceAllowOnce, Label: "Allow once"}}
	if key != "" {
		options = append(options, Option{Choice: ChoiceAlwaysAllow, Label: fmt.Sprintf("Always allow %s this session", scope)})
	}
	options = append(options, Option{Choice: ChoiceDeny, Label: "Deny"})

	return Decision{
		NeedsConfirmation: true,
		Prompt:            describe(tool.Name(), args),
		Options:           options,
		SessionKey:        key,
	}
}

// Authorize blocks until the call is allowed or denied. Confirmer errors and
// cancelled contexts deny. The returned reason explains a denial.
func (g *Gate) Authorize(ctx context.Context, tool tools.Tool, args map[string]any) (bool, string) {
	decision := g.Check(tool, args)
	if !decision.NeedsConfirmation {
		return true, ""
	}
	if err := ctx.Err(); err != nil {
		return false, fmt.Sprintf("confirmation for %s was cancelled", tool.Name())
	}

	choice, err := g.confirmer.Confirm(ctx, Request{
		Tool:    tool.Name(),
		Args:    args,
		Prompt:  decision.Prompt,
		Options: decision.Options,
	})
	if err != nil {
		g.logger.Warn("confirmation failed", zap.String("tool", string(tool.Name())), zap.Error(err))
		return false, fmt.Sprintf("confirmation for %s failed: %v", tool.Name(), err)
	}

	g.logger.Debug("confirmation resolved",
		zap.String("tool", string(tool.Name())),
		zap.String("choice", choice.String()),
	)

	switch choice {
	case ChoiceAlwaysAllow:
		if decision.SessionKey != "" {
			g.mu.Lock()
			g.approved[decision.SessionKey] = true
			g.mu.Unlock()
		}
		return true, ""
	case ChoiceAllowOnce:
		return true, ""
	default:
		return false, fmt.Sprintf("the user declined this %s call; do not retry it unchanged, ask the user how to proceed", tool.Name())
	}
}

// sessionKey returns the approval key and a human description of its scope.
// exec approvals are scoped to the base command, so allowing `go` does not
// allow `git`.
func (g *Gate) sessionKey(name tools.Name, args map[string]any) (string, string) {
	if name != tools.NameExec {
		return "tool:" + string(name), string(name)
	}
	command, _ := args["command"].(string)
	result := g.commands.Validate(command)
	if result.BaseCommand == "" {
		return "", ""
	}
	return "exec:" + result.BaseCommand, fmt.Sprintf("%q commands", result.BaseCommand)
}

func describe(name tools.Name, args map[string]any) string {
	str := func(key string) string {
		v, _ := args[key].(string)
		return v
	}
	switch name {
	case tools.NameExec:
		return "Run command: " + str("command")
	case tools.NameWriteFile:
		return fmt.Sprintf("Write file: %s (%d bytes)", str("file_path"), len(str("content")))
	case tools.NameEditFile:
		return "Edit file: " + str("file_path")
	default:
		return fmt.Sprintf("Run tool %s", name)
	}
}
