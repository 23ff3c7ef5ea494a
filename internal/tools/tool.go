package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
)

// ErrorKind classifies a failed tool result so callers can react differently
// to bad input, security rejections, execution faults and delegation errors.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindSecurity   ErrorKind = "security"
	ErrorKindExecution  ErrorKind = "execution"
	ErrorKindDelegation ErrorKind = "delegation"
)

// Result is what every tool returns. Failures are values, never errors.
type Result struct {
	Success bool           `json:"success"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Kind    ErrorKind      `json:"errorKind,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Failed reports whether the result explicitly signals failure.
func (r Result) Failed() bool { return !r.Success }

// JSON renders the result as the content of a tool message.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success": false, "error": %q}`, err.Error())
	}
	return string(b)
}

func ok(output string) Result {
	return Result{Success: true, Output: output}
}

func fail(kind ErrorKind, format string, args ...any) Result {
	return Result{Success: false, Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// ExecContext carries per-session state into tool handlers.
type ExecContext struct {
	// Credential is the model access credential, forwarded to delegated runs.
	Credential string
	// WorkDir is where commands run and relative paths are anchored.
	WorkDir string
	// Model is the model of the current run, used as the default for delegation.
	Model string
	// Todos is the session todo list. Nil disables the todo tools.
	Todos *TodoList
}

// Tool is a named, capability-declared operation the model can invoke.
type Tool interface {
	Name() Name
	Description() string
	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any
	RequiresConfirmation() bool
	Kind() acp.ToolKind
	Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func requiredString(args map[string]any, tool Name, key string) (string, *Result) {
	v, ok := stringArg(args, key)
	if !ok || v == "" {
		r := fail(ErrorKindValidation, "%s requires a non-empty %q string argument", tool, key)
		return "", &r
	}
	return v, nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func schema(required []string, properties map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
