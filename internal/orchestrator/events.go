package orchestrator

import "github.com/atinylittleshell/gsh-agent/internal/tools"

// EventType names the events emitted during a run.
type EventType string

const (
	EventText       EventType = "text"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventEvidence   EventType = "evidence"
	EventError      EventType = "error"
	EventDone       EventType = "done"
)

// Event is one item of the run event stream. Which fields are set depends on
// Type: Text for text, Tool/CallID/Args for tool_start, plus Result for
// tool_result, Summary for evidence and Message for error.
type Event struct {
	Type    EventType
	Text    string
	Tool    string
	CallID  string
	Args    map[string]any
	Result  *tools.Result
	Summary string
	Message string
}

// EventHandler receives run events synchronously, in order.
type EventHandler func(Event)
