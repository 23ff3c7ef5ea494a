package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/atinylittleshell/gsh-agent/internal/acp"
)

type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

type TodoItem struct {
	ID      string     `json:"id"`
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// TodoList is the task list of one session. It is owned by the session and
// handed to the todo tools through ExecContext.
type TodoList struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoList() *TodoList {
	return &TodoList{}
}

// Items returns a copy of the current items.
func (l *TodoList) Items() []TodoItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]TodoItem(nil), l.items...)
}

// Replace swaps in a new list after validating it. Items without an id are
// numbered by position. At most one item may be in progress.
func (l *TodoList) Replace(items []TodoItem) error {
	seen := make(map[string]bool, len(items))
	normalized := make([]TodoItem, 0, len(items))
	for i, item := range items {
		item.Content = strings.TrimSpace(item.Content)
		if item.Content == "" {
			return fmt.Errorf("todo %d has empty content", i+1)
		}
		if item.Status == "" {
			item.Status = TodoPending
		}
		switch item.Status {
		case TodoPending, TodoInProgress, TodoCompleted:
		default:
			return fmt.Errorf("todo %d has invalid status %q (use pending, in_progress or completed)", i+1, item.Status)
		}
		if item.ID == "" {
			item.ID = strconv.Itoa(i + 1)
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate todo id %q", item.ID)
		}
		seen[item.ID] = true
		normalized = append(normalized, item)
	}

	if n := lo.CountBy(normalized, func(item TodoItem) bool { return item.Status == TodoInProgress }); n > 1 {
		return fmt.Errorf("%d todos are in_progress; only one may be in progress at a time", n)
	}

	l.mu.Lock()
	l.items = normalized
	l.mu.Unlock()
	return nil
}

// Render formats the list as a checklist followed by a status summary.
func (l *TodoList) Render() string {
	items := l.Items()
	if len(items) == 0 {
		return "No todos."
	}

	var sb strings.Builder
	for _, item := range items {
		mark := " "
		switch item.Status {
		case TodoInProgress:
			mark = "~"
		case TodoCompleted:
			mark = "x"
		}
		fmt.Fprintf(&sb, "[%s] %s. %s\n", mark, item.ID, item.Content)
	}

	counts := lo.CountValuesBy(items, func(item TodoItem) TodoStatus { return item.Status })
	fmt.Fprintf(&sb, "%d todos (%d completed, %d in progress, %d pending)",
		len(items), counts[TodoCompleted], counts[TodoInProgress], counts[TodoPending])
	return sb.String()
}

type TodoReadTool struct{}

func NewTodoReadTool() *TodoReadTool { return &TodoReadTool{} }

func (t *TodoReadTool) Name() Name                 { return NameTodoRead }
func (t *TodoReadTool) Kind() acp.ToolKind         { return acp.ToolKindOther }
func (t *TodoReadTool) RequiresConfirmation() bool { return false }
func (t *TodoReadTool) Description() string {
	return "Read the current session todo list."
}
func (t *TodoReadTool) Parameters() map[string]any {
	return schema([]string{}, map[string]any{})
}

func (t *TodoReadTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	if ec == nil || ec.Todos == nil {
		return fail(ErrorKindExecution, "no todo list is attached to this session")
	}
	r := ok(ec.Todos.Render())
	r.Data = map[string]any{"count": len(ec.Todos.Items())}
	return r
}

type TodoWriteTool struct{}

func NewTodoWriteTool() *TodoWriteTool { return &TodoWriteTool{} }

func (t *TodoWriteTool) Name() Name                 { return NameTodoWrite }
func (t *TodoWriteTool) Kind() acp.ToolKind         { return acp.ToolKindOther }
func (t *TodoWriteTool) RequiresConfirmation() bool { return false }
func (t *TodoWriteTool) Description() string {
	return "Replace the session todo list. Send the complete list every time; keep at most one item in_progress."
}

func (t *TodoWriteTool) Parameters() map[string]any {
	return schema([]string{"todos"}, map[string]any{
		"todos": map[string]any{
			"type":        "array",
			"description": "The complete todo list",
			"items": schema([]string{"content", "status"}, map[string]any{
				"id":      prop("string", "Stable identifier. Defaults to the 1-based position."),
				"content": prop("string", "What needs to be done"),
				"status": map[string]any{
					"type": "string",
					"enum": []string{string(TodoPending), string(TodoInProgress), string(TodoCompleted)},
				},
			}),
		},
	})
}

func (t *TodoWriteTool) Execute(ctx context.Context, args map[string]any, ec *ExecContext) Result {
	if ec == nil || ec.Todos == nil {
		return fail(ErrorKindExecution, "no todo list is attached to this session")
	}

	raw, isList := args["todos"].([]any)
	if !isList {
		return fail(ErrorKindValidation, "todo_write requires a %q array argument", "todos")
	}

	items := make([]TodoItem, 0, len(raw))
	for i, entry := range raw {
		fields, isMap := entry.(map[string]any)
		if !isMap {
			return fail(ErrorKindValidation, "todo %d must be an object", i+1)
		}
		id, _ := stringArg(fields, "id")
		content, _ := stringArg(fields, "content")
		status, _ := stringArg(fields, "status")
		items = append(items, TodoItem{ID: id, Content: content, Status: TodoStatus(status)})
	}

	if err := ec.Todos.Replace(items); err != nil {
		return fail(ErrorKindValidation, "%v", err)
	}
	r := ok(ec.Todos.Render())
	r.Data = map[string]any{"count": len(items)}
	return r
}
