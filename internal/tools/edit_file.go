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

type EditFileTool struct {
	paths *security.PathValidator
}

func NewEditFileTool(paths *security.PathValidator) *EditFileTool {
	return &EditFileTool{paths: paths}
}

func (t *EditFileTool) Name() Name                 { return NameEditFile }
func (t *EditFileTool) Kind() acp.ToolKind         { return acp.ToolKindWrite }
func (t *EditFileTool) RequiresConfirmation() bool { return true }

func (t *EditFileTool) Description() string {
	return "Perform a find-and-replace edit on a file. The find string must appear exactly once in the file (or within the specified line range). Use start_line and end_line to constrain the search to a specific range."
}

func (t *EditFileTool) Parameters() map[string]any {
	return schema([]string{"file_path", "find", "replace"}, map[string]any{
		"file_path":  prop("string", "The path to the file to edit (relative to the working directory or absolute)"),
		"find":       prop("string", "The exact string to find. Must appear exactly once (or once within the line range if specified)."),
		"replace":    prop("string", "The string to replace the find string with"),
		"start_line": prop("integer", "Optional 1-indexed start line to constrain the search (inclusive)"),
		"end_line":   prop("integer", "Optional 1-indexed end line to constrain the search (inclusive)"),
	})
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	path, bad := requiredString(args, NameEditFile, "file_path")
	if bad != nil {
		return *bad
	}
	find, bad := requiredString(args, NameEditFile, "find")
	if bad != nil {
		return *bad
	}
	replace, present := stringArg(args, "replace")
	if !present {
		return fail(ErrorKindValidation, "edit_file requires a %q string argument", "replace")
	}

	// Check write access first so a symlink is refused before anything is read.
	if res := t.paths.Validate(path, security.OpWrite, false); !res.Valid {
		return pathFailure(res)
	}

	in, res := t.paths.ValidateAndOpen(path, security.OpRead, os.O_RDONLY, 0)
	if !res.Valid {
		return pathFailure(res)
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return fail(ErrorKindExecution, "failed to stat %s: %v", path, err)
	}
	content, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fail(ErrorKindExecution, "failed to read %s: %v", path, err)
	}

	updated, problem := applyEdit(string(content), find, replace, intArg(args, "start_line"), intArg(args, "end_line"))
	if problem != "" {
		return fail(ErrorKindValidation, "%s", problem)
	}

	out, res := t.paths.ValidateAndOpen(path, security.OpWrite, os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if !res.Valid {
		return pathFailure(res)
	}
	if _, err := out.WriteString(updated); err != nil {
		out.Close()
		return fail(ErrorKindExecution, "failed to write %s: %v", path, err)
	}
	if err := out.Close(); err != nil {
		return fail(ErrorKindExecution, "failed to write %s: %v", path, err)
	}

	r := ok("edit applied successfully")
	r.Data = map[string]any{"path": res.ResolvedPath}
	return r
}

// applyEdit replaces the single occurrence of find, optionally searching only
// lines [start, end]. The original line ending style is preserved. A non-empty
// second return value explains why the edit could not be applied.
func applyEdit(content, find, replace string, start, end int) (string, string) {
	lineEnding := "\n"
	if strings.Contains(content, "\r\n") {
		lineEnding = "\r\n"
	} else if strings.Contains(content, "\r") {
		lineEnding = "\r"
	}

	lines := splitLines(content)
	total := len(lines)
	ranged := start > 0 || end > 0

	if ranged {
		if start <= 0 {
			start = 1
		}
		if end <= 0 || end > total {
			end = total
		}
		if start > end {
			return "", fmt.Sprintf("invalid line range: start_line (%d) > end_line (%d)", start, end)
		}
		if start > total {
			return "", fmt.Sprintf("start_line (%d) exceeds file length (%d lines)", start, total)
		}
	} else {
		start, end = 1, total
	}

	before := strings.Join(lines[:start-1], "\n")
	region := strings.Join(lines[start-1:end], "\n")
	after := strings.Join(lines[end:], "\n")

	switch n := strings.Count(region, find); {
	case n == 0 && ranged:
		return "", fmt.Sprintf("find string not found within lines %d-%d", start, end)
	case n == 0:
		return "", "find string not found in file"
	case n > 1 && ranged:
		return "", fmt.Sprintf("find string appears %d times within lines %d-%d (must appear exactly once)", n, start, end)
	case n > 1:
		return "", fmt.Sprintf("find string appears %d times in file (must appear exactly once)", n)
	}

	region = strings.Replace(region, find, replace, 1)

	var sb strings.Builder
	if start > 1 {
		sb.WriteString(before)
		sb.WriteString("\n")
	}
	sb.WriteString(region)
	if end < total {
		sb.WriteString("\n")
		sb.WriteString(after)
	}

	result := sb.String()
	if lineEnding != "\n" {
		result = strings.ReplaceAll(result, "\n", lineEnding)
	}
	return result, ""
}
