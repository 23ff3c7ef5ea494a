package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/security"
)

// maxViewOutput is the output size (100KB) above which lines from the middle
// are dropped.
const maxViewOutput = 100000

const truncationMarker = "(truncated)"

type ViewFileTool struct {
	paths *security.PathValidator
}

func NewViewFileTool(paths *security.PathValidator) *ViewFileTool {
	return &ViewFileTool{paths: paths}
}

func (t *ViewFileTool) Name() Name                 { return NameViewFile }
func (t *ViewFileTool) Kind() acp.ToolKind         { return acp.ToolKindRead }
func (t *ViewFileTool) RequiresConfirmation() bool { return false }

func (t *ViewFileTool) Description() string {
	return "View the contents of a file with line numbers. Each line is prefixed with a 5-digit 1-indexed line number (e.g., '    1:content'). Use start_line and end_line to view a specific range."
}

func (t *ViewFileTool) Parameters() map[string]any {
	return schema([]string{"file_path"}, map[string]any{
		"file_path":  prop("string", "The path to the file to view (relative to the working directory or absolute)"),
		"start_line": prop("integer", "Optional 1-indexed start line (inclusive). Defaults to 1."),
		"end_line":   prop("integer", "Optional 1-indexed end line (inclusive). Defaults to the end of the file."),
	})
}

func (t *ViewFileTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	path, bad := requiredString(args, NameViewFile, "file_path")
	if bad != nil {
		return *bad
	}

	f, res := t.paths.ValidateAndOpen(path, security.OpRead, os.O_RDONLY, 0)
	if !res.Valid {
		return pathFailure(res)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(ErrorKindExecution, "failed to stat %s: %v", path, err)
	}
	if info.IsDir() {
		return fail(ErrorKindValidation, "%s is a directory; use list_files instead", path)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fail(ErrorKindExecution, "failed to read %s: %v", path, err)
	}

	output, err := numberLines(string(content), intArg(args, "start_line"), intArg(args, "end_line"))
	if err != nil {
		return fail(ErrorKindValidation, "%v", err)
	}

	r := ok(output)
	r.Data = map[string]any{"path": res.ResolvedPath}
	return r
}

// numberLines renders content with 5-digit line number prefixes, limited to
// the optional [start, end] range.
func numberLines(content string, start, end int) (string, error) {
	lines := splitLines(content)
	total := len(lines)

	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > total {
		end = total
	}
	if start > total {
		return "", fmt.Errorf("start_line (%d) exceeds file length (%d lines)", start, total)
	}
	if start > end {
		return "", fmt.Errorf("invalid line range: start_line (%d) > end_line (%d)", start, end)
	}

	numbered := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		numbered = append(numbered, fmt.Sprintf("%5d:%s", i, lines[i-1]))
	}
	return truncateMiddle(numbered, maxViewOutput), nil
}

// splitLines normalizes \r\n and bare \r line endings before splitting.
func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.Split(content, "\n")
}

// truncateMiddle keeps roughly equal runs of lines from the start and the end
// so the joined output fits in maxLen, with a marker where lines were dropped.
func truncateMiddle(lines []string, maxLen int) string {
	joined := strings.Join(lines, "\n")
	if len(joined) <= maxLen {
		return joined
	}

	budget := (maxLen - len(truncationMarker) - 2) / 2

	head, used := 0, 0
	for head < len(lines) && used+len(lines[head])+1 <= budget {
		used += len(lines[head]) + 1
		head++
	}

	tail, used := 0, 0
	for tail < len(lines)-head && used+len(lines[len(lines)-1-tail])+1 <= budget {
		used += len(lines[len(lines)-1-tail]) + 1
		tail++
	}

	parts := make([]string, 0, head+tail+1)
	parts = append(parts, lines[:head]...)
	parts = append(parts, truncationMarker)
	parts = append(parts, lines[len(lines)-tail:]...)
	return strings.Join(parts, "\n")
}

// pathFailure converts a rejected path into a tool result, keeping the
// rejection reason so the model can adapt.
func pathFailure(res security.PathResult) Result {
	kind := ErrorKindSecurity
	switch res.Reason {
	case security.ReasonNotFound, security.ReasonInvalidPath:
		kind = ErrorKindValidation
	case security.ReasonOpenFailed, security.ReasonResolve:
		kind = ErrorKindExecution
	}
	return Result{
		Success: false,
		Kind:    kind,
		Error:   res.Error,
		Data:    map[string]any{"reason": string(res.Reason)},
	}
}
