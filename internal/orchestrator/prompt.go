package orchestrator

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atinylittleshell/gsh-agent/internal/security"
)

// maxProjectContext caps how much of a project context file is loaded (32 KiB).
const maxProjectContext = 32 * 1024

// projectContextFiles are tried in order; the first readable one wins.
var projectContextFiles = []string{"AGENTS.md", "GSH.md"}

const baseInstructions = `You are gsh, a coding assistant working in the user's terminal.
You act through tools: view_file, list_files and grep to inspect the project, write_file and edit_file to change it, exec to run allowed commands, todo_read and todo_write to track multi-step work, and delegate to hand a self-contained task to a specialized subagent.
Read files before editing them. Prefer small, targeted edits. Tool calls that change files or run commands may need the user's confirmation; if one is denied, do not retry it unchanged.`

const evidenceConstraints = `<constraints>
Only claim actions that appear in your tool results. Do not say a file was read, written, edited, searched or a command was run unless a tool call in this conversation did it and its result reported success.
When a tool fails or is denied, say so plainly instead of describing the outcome you expected.
Do not invent file contents, command output, test results or delegation results.
A summary of the tool calls actually executed is computed independently and shown to the user after your answer.
</constraints>`

// primarySystemPrompt assembles the primary-mode system prompt: base
// instructions, ambient project context, environment and the evidence rules.
func primarySystemPrompt(base string, paths *security.PathValidator, workDir string, now time.Time, logger *zap.Logger) string {
	if base == "" {
		base = baseInstructions
	}
	sections := []string{base}
	if ctx := projectContext(paths, logger); ctx != "" {
		sections = append(sections, ctx)
	}
	sections = append(sections, environmentContext(workDir, now), evidenceConstraints)
	return strings.Join(sections, "\n\n")
}

// projectContext loads the first project context file found in the working
// directory. It goes through the path validator like any other read.
func projectContext(paths *security.PathValidator, logger *zap.Logger) string {
	if paths == nil {
		return ""
	}
	for _, name := range projectContextFiles {
		f, res := paths.ValidateAndOpen(name, security.OpRead, os.O_RDONLY, 0)
		if !res.Valid {
			if res.Reason != security.ReasonNotFound {
				logger.Debug("project context skipped", zap.String("file", name), zap.String("reason", string(res.Reason)))
			}
			continue
		}
		content, err := io.ReadAll(io.LimitReader(f, maxProjectContext+1))
		f.Close()
		if err != nil {
			logger.Warn("failed to read project context", zap.String("file", name), zap.Error(err))
			continue
		}
		text := string(content)
		if len(content) > maxProjectContext {
			text = string(content[:maxProjectContext]) + "\n(truncated)"
		}
		return fmt.Sprintf("<project_context file=%q>\n%s\n</project_context>", name, text)
	}
	return ""
}

func environmentContext(workDir string, now time.Time) string {
	return fmt.Sprintf("<working_dir>%s</working_dir>\n<system_info>OS: %s, Arch: %s</system_info>\n<date>%s</date>",
		workDir, runtime.GOOS, runtime.GOARCH, now.Format("2006-01-02"))
}
