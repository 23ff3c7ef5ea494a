package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/security"
)

const maxListEntries = 1000

type ListFilesTool struct {
	paths *security.PathValidator
}

func NewListFilesTool(paths *security.PathValidator) *ListFilesTool {
	return &ListFilesTool{paths: paths}
}

func (t *ListFilesTool) Name() Name                 { return NameListFiles }
func (t *ListFilesTool) Kind() acp.ToolKind         { return acp.ToolKindRead }
func (t *ListFilesTool) RequiresConfirmation() bool { return false }

func (t *ListFilesTool) Description() string {
	return "List the entries of a directory, sorted by name. Directories end with '/', files show their size."
}

func (t *ListFilesTool) Parameters() map[string]any {
	return schema([]string{}, map[string]any{
		"path":        prop("string", "Directory to list. Defaults to the working directory."),
		"show_hidden": prop("boolean", "Include entries whose names start with '.'"),
	})
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	path, _ := stringArg(args, "path")
	if path == "" {
		path = "."
	}
	showHidden := boolArg(args, "show_hidden")

	dir, res := t.paths.ValidateAndOpen(path, security.OpRead, os.O_RDONLY, 0)
	if !res.Valid {
		return pathFailure(res)
	}
	defer dir.Close()

	entries, err := dir.ReadDir(-1)
	if err != nil {
		return fail(ErrorKindExecution, "failed to list %s: %v", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sb strings.Builder
	shown, hidden := 0, 0
	for _, entry := range entries {
		if !showHidden && strings.HasPrefix(entry.Name(), ".") {
			hidden++
			continue
		}
		if shown == maxListEntries {
			break
		}
		shown++

		if entry.IsDir() {
			sb.WriteString(entry.Name() + "/\n")
			continue
		}
		size := ""
		if info, err := entry.Info(); err == nil && info.Mode().IsRegular() {
			size = "  " + humanize.Bytes(uint64(info.Size()))
		}
		if entry.Type()&os.ModeSymlink != 0 {
			size = "  -> symlink"
		}
		sb.WriteString(entry.Name() + size + "\n")
	}

	if shown == 0 {
		sb.WriteString("(empty directory)\n")
	}
	if remaining := len(entries) - hidden - shown; remaining > 0 {
		sb.WriteString(fmt.Sprintf("... %d more entries not shown\n", remaining))
	}

	r := ok(strings.TrimRight(sb.String(), "\n"))
	r.Data = map[string]any{"path": res.ResolvedPath, "entries": shown, "hidden": hidden}
	return r
}
