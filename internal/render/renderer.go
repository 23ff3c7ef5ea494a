package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
	"github.com/atinylittleshell/gsh-agent/internal/orchestrator"
	"github.com/atinylittleshell/gsh-agent/internal/security"
	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

const (
	maxArgValue   = 60
	maxErrorLines = 5
)

// Renderer writes run events to a terminal. It is not safe for concurrent use;
// orchestrator events are delivered from a single goroutine.
type Renderer struct {
	writer io.Writer
	now    func() time.Time

	started map[string]time.Time
	midLine bool
}

func New(writer io.Writer) *Renderer {
	return &Renderer{
		writer:  writer,
		now:     time.Now,
		started: make(map[string]time.Time),
	}
}

// Handle renders one orchestrator event. It can be passed directly as an
// orchestrator.EventHandler.
func (r *Renderer) Handle(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventText:
		r.RenderAgentText(e.Text)
	case orchestrator.EventToolStart:
		r.started[e.CallID] = r.now()
		r.RenderToolStart(e.Tool, e.Args)
	case orchestrator.EventToolResult:
		var duration time.Duration
		if start, ok := r.started[e.CallID]; ok {
			duration = r.now().Sub(start)
			delete(r.started, e.CallID)
		}
		result := tools.Result{}
		if e.Result != nil {
			result = *e.Result
		}
		r.RenderToolComplete(e.Tool, result, duration)
	case orchestrator.EventEvidence:
		r.endLine()
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer, renderLines(DimStyle, e.Summary))
	case orchestrator.EventError:
		r.endLine()
		fmt.Fprintln(r.writer, ErrorStyle.Render(SymbolError+" "+e.Message))
	}
}

// RenderAgentHeader renders the agent header line.
func (r *Renderer) RenderAgentHeader(agentName, model string) {
	header := fmt.Sprintf("── agent: %s ───", agentName)
	if model != "" {
		header = fmt.Sprintf("── agent: %s (%s) ───", agentName, model)
	}
	fmt.Fprintln(r.writer, HeaderStyle.Render(header))
}

// RenderAgentFooter renders token usage and elapsed time.
func (r *Renderer) RenderAgentFooter(usage acp.TokenUsage, duration time.Duration) {
	r.endLine()
	footer := fmt.Sprintf("── %s in · %s out · %.1fs ───",
		humanize.Comma(int64(usage.PromptTokens)),
		humanize.Comma(int64(usage.CompletionTokens)),
		duration.Seconds(),
	)
	fmt.Fprintln(r.writer)
	fmt.Fprintln(r.writer, HeaderStyle.Render(footer))
}

// RenderAgentText renders agent response text as it streams.
func (r *Renderer) RenderAgentText(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(r.writer, text)
	r.midLine = !strings.HasSuffix(text, "\n")
}

// RenderToolStart renders the start of a tool call. Exec calls show the
// command itself.
func (r *Renderer) RenderToolStart(toolName string, args map[string]any) {
	r.endLine()
	if toolName == string(tools.NameExec) {
		command, _ := args["command"].(string)
		fmt.Fprintln(r.writer, ExecStartStyle.Render(SymbolExec)+" "+command)
		return
	}
	fmt.Fprintln(r.writer, ToolPendingStyle.Render(SymbolToolPending)+" "+toolName)
	if formatted := formatArgs(args); formatted != "" {
		fmt.Fprintln(r.writer, renderLines(DimStyle, formatted))
	}
}

// RenderToolComplete renders the outcome of a tool call.
func (r *Renderer) RenderToolComplete(toolName string, result tools.Result, duration time.Duration) {
	status := acp.ToolCallStatusCompleted
	if result.Failed() {
		status = acp.ToolCallStatusFailed
	}

	line := fmt.Sprintf("%s %s %s (%.1fs)", statusSymbol(status), toolName, statusGlyph(status), duration.Seconds())
	fmt.Fprintln(r.writer, line)
	if result.Failed() && result.Error != "" {
		fmt.Fprintln(r.writer, renderLines(DimStyle, indent(headLines(result.Error, maxErrorLines))))
	}
}

// RenderSystemMessage renders a system/status message with → prefix
func (r *Renderer) RenderSystemMessage(message string) {
	r.endLine()
	fmt.Fprintln(r.writer, SystemMessageStyle.Render(SymbolSystemMessage+" "+message))
}

// RenderCommandCheck renders a CommandValidator verdict.
func (r *Renderer) RenderCommandCheck(command string, res security.CommandResult) {
	if res.Valid {
		fmt.Fprintf(r.writer, "%s allowed: %s\n", statusGlyph(acp.ToolCallStatusCompleted), command)
		return
	}
	fmt.Fprintf(r.writer, "%s rejected by %s (%s): %s\n",
		statusGlyph(acp.ToolCallStatusFailed), res.Layer, res.Reason, res.Error)
}

// RenderPathCheck renders a PathValidator verdict.
func (r *Renderer) RenderPathCheck(path string, op security.Operation, res security.PathResult) {
	if res.Valid {
		fmt.Fprintf(r.writer, "%s %s allowed: %s\n", statusGlyph(acp.ToolCallStatusCompleted), op, res.ResolvedPath)
		return
	}
	fmt.Fprintf(r.writer, "%s %s rejected (%s): %s\n", statusGlyph(acp.ToolCallStatusFailed), op, res.Reason, res.Error)
}

// endLine terminates streamed text that did not end with a newline so the
// next block starts on its own line.
func (r *Renderer) endLine() {
	if r.midLine {
		fmt.Fprintln(r.writer)
		r.midLine = false
	}
}

func statusSymbol(status acp.ToolCallStatus) string {
	switch status {
	case acp.ToolCallStatusCompleted:
		return SuccessStyle.Render(SymbolToolComplete)
	case acp.ToolCallStatusFailed:
		return ErrorStyle.Render(SymbolToolComplete)
	default:
		return ToolPendingStyle.Render(SymbolToolPending)
	}
}

func statusGlyph(status acp.ToolCallStatus) string {
	switch status {
	case acp.ToolCallStatusCompleted:
		return SuccessStyle.Render(status.Glyph())
	case acp.ToolCallStatusFailed:
		return ErrorStyle.Render(status.Glyph())
	default:
		return ToolPendingStyle.Render(status.Glyph())
	}
}

// formatArgs lists arguments one per line in key order.
func formatArgs(args map[string]any) string {
	keys := lo.Keys(args)
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		value := []rune(fmt.Sprintf("%v", args[k]))
		if len(value) > maxArgValue {
			value = append(value[:maxArgValue-3], []rune("...")...)
		}
		lines = append(lines, fmt.Sprintf("   %s: %s", k, strings.ReplaceAll(string(value), "\n", "⏎")))
	}
	return strings.Join(lines, "\n")
}

// renderLines styles each line on its own so lipgloss does not pad lines to a
// common width.
func renderLines(style lipgloss.Style, s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = style.Render(line)
	}
	return strings.Join(lines, "\n")
}

func headLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + "\n..."
}

func indent(s string) string {
	return "   " + strings.ReplaceAll(s, "\n", "\n   ")
}
