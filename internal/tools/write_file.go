package tools

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/security"
)

type WriteFileTool struct {
	paths *security.PathValidator
}

func NewWriteFileTool(paths *security.PathValidator) *WriteFileTool {
	return &WriteFileTool{paths: paths}
}

func (t *WriteFileTool) Name() Name                 { return NameWriteFile }
func (t *WriteFileTool) Kind() acp.ToolKind         { return acp.ToolKindWrite }
func (t *WriteFileTool) RequiresConfirmation() bool { return true }

func (t *WriteFileTool) Description() string {
	return "Create a file or overwrite an existing one with the given content. Missing parent directories are created."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return schema([]string{"file_path", "content"}, map[string]any{
		"file_path": prop("string", "The path to the file to write (relative to the working directory or absolute)"),
		"content":   prop("string", "The full content to write"),
	})
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	path, bad := requiredString(args, NameWriteFile, "file_path")
	if bad != nil {
		return *bad
	}
	content, present := stringArg(args, "content")
	if !present {
		return fail(ErrorKindValidation, "write_file requires a %q string argument", "content")
	}

	res := t.paths.Validate(path, security.OpWrite, true)
	if !res.Valid {
		return pathFailure(res)
	}

	_, statErr := os.Stat(res.ResolvedPath)
	created := os.IsNotExist(statErr)

	// The resolved path already passed containment, so its parent is inside an
	// allowed root too.
	if err := os.MkdirAll(filepath.Dir(res.ResolvedPath), 0755); err != nil {
		return fail(ErrorKindExecution, "failed to create parent directories for %s: %v", path, err)
	}

	f, res := t.paths.ValidateAndOpen(path, security.OpWrite, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if !res.Valid {
		return pathFailure(res)
	}
	n, err := f.WriteString(content)
	closeErr := f.Close()
	if err != nil {
		return fail(ErrorKindExecution, "failed to write %s: %v", path, err)
	}
	if closeErr != nil {
		return fail(ErrorKindExecution, "failed to write %s: %v", path, closeErr)
	}

	verb := "updated"
	if created {
		verb = "created"
	}
	r := ok(verb + " " + path + " (" + humanize.Bytes(uint64(n)) + ")")
	r.Data = map[string]any{"path": res.ResolvedPath, "bytes": n, "created": created}
	return r
}
