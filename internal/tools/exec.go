package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/security"
)

// DefaultExecTimeout is the default timeout for command execution.
const DefaultExecTimeout = 60 * time.Second

const maxExecTimeout = 10 * time.Minute

type ExecTool struct {
	commands *security.CommandValidator
	timeout  time.Duration
	logger   *zap.Logger
}

func NewExecTool(commands *security.CommandValidator, timeout time.Duration, logger *zap.Logger) *ExecTool {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecTool{commands: commands, timeout: timeout, logger: logger}
}

func (t *ExecTool) Name() Name                 { return NameExec }
func (t *ExecTool) Kind() acp.ToolKind         { return acp.ToolKindExecute }
func (t *ExecTool) RequiresConfirmation() bool { return true }

func (t *ExecTool) Description() string {
	return "Execute a single shell command in the working directory and return its output. Chaining, pipes, redirection and substitution are not allowed; run one command per call."
}

func (t *ExecTool) Parameters() map[string]any {
	return schema([]string{"command"}, map[string]any{
		"command": prop("string", "The command to execute"),
		"timeout": prop("integer", "Timeout in seconds. Defaults to 60 seconds."),
	})
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	command, bad := requiredString(args, NameExec, "command")
	if bad != nil {
		return *bad
	}

	check := t.commands.Validate(command)
	if !check.Valid {
		return Result{
			Success: false,
			Kind:    ErrorKindSecurity,
			Error:   check.Error,
			Data: map[string]any{
				"layer":  int(check.Layer),
				"reason": string(check.Reason),
			},
		}
	}

	timeout := t.timeout
	if secs := intArg(args, "timeout"); secs > 0 {
		timeout = min(time.Duration(secs)*time.Second, maxExecTimeout)
	}

	dir := ""
	if ec != nil {
		dir = ec.WorkDir
	}

	started := time.Now()
	output, exitCode, err := RunCommand(ctx, dir, command, timeout)
	t.logger.Debug("exec finished",
		zap.String("command", command),
		zap.String("base", check.BaseCommand),
		zap.Int("exitCode", exitCode),
		zap.Duration("elapsed", time.Since(started)),
		zap.Error(err),
	)

	output, truncated := truncateBytes(output, maxCommandOutput)
	data := map[string]any{"exitCode": exitCode, "truncated": truncated}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Result{Success: false, Kind: ErrorKindExecution, Output: output, Data: data,
			Error: fmt.Sprintf("command timed out after %s", timeout)}
	case err != nil:
		return Result{Success: false, Kind: ErrorKindExecution, Output: output, Data: data,
			Error: fmt.Sprintf("command execution failed: %v", err)}
	case exitCode != 0:
		return Result{Success: false, Kind: ErrorKindExecution, Output: output, Data: data,
			Error: fmt.Sprintf("command exited with status %d", exitCode)}
	}
	return Result{Success: true, Output: output, Data: data}
}

// RunCommand runs command with an embedded shell interpreter in dir, capturing
// stdout and stderr together. A non-zero exit code is not an error.
func RunCommand(ctx context.Context, dir, command string, timeout time.Duration) (string, int, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return "", 1, fmt.Errorf("failed to parse command: %w", err)
	}

	out := &lockedBuffer{}
	env := append(os.Environ(),
		"PAGER=cat",
		"GIT_PAGER=cat",
		"GIT_TERMINAL_PROMPT=0",
	)
	opts := []interp.RunnerOption{
		interp.StdIO(nil, out, out),
		interp.Env(expand.ListEnviron(env...)),
	}
	if dir != "" {
		opts = append(opts, interp.Dir(dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return "", 1, fmt.Errorf("failed to create shell runner: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = runner.Run(runCtx, prog)
	if runCtx.Err() != nil {
		return out.String(), -1, runCtx.Err()
	}
	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return out.String(), int(status), nil
		}
		return out.String(), 1, err
	}
	return out.String(), 0, nil
}

// lockedBuffer is written by the stdout and stderr copiers concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
