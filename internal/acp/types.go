// Package acp provides types aligned with the Agent Client Protocol (ACP) specification.
// ACP standardizes communication between clients and AI agents.
// See: https://agentclientprotocol.com/
//
// These types are shared by the orchestrator, the subagent runner and the CLI
// renderer so that every layer describes tool calls and stop reasons the same way.
package acp

// ToolCallStatus represents the execution status of a tool call.
// Aligned with ACP's ToolCallStatus enum.
type ToolCallStatus string

const (
	// ToolCallStatusPending indicates the tool call has been announced but has
	// not produced a result yet.
	ToolCallStatusPending ToolCallStatus = "pending"

	// ToolCallStatusCompleted indicates the tool finished successfully.
	ToolCallStatusCompleted ToolCallStatus = "completed"

	// ToolCallStatusFailed indicates the tool was rejected or returned a failure.
	ToolCallStatusFailed ToolCallStatus = "failed"
)

// Glyph returns the single-character status marker used in traces.
func (s ToolCallStatus) Glyph() string {
	switch s {
	case ToolCallStatusCompleted:
		return "✓"
	case ToolCallStatusFailed:
		return "✗"
	default:
		return "…"
	}
}

// StopReason represents why an agent stopped processing a prompt turn.
// Aligned with ACP's StopReason enum.
type StopReason string

const (
	// StopReasonEndTurn indicates the model answered without requesting more tools.
	StopReasonEndTurn StopReason = "end_turn"

	// StopReasonMaxRounds indicates the round budget was exhausted.
	// ACP calls this max_turn_requests.
	StopReasonMaxRounds StopReason = "max_rounds"

	// StopReasonCancelled indicates the turn was cancelled through its context.
	StopReasonCancelled StopReason = "cancelled"

	// StopReasonTimeout indicates a delegated run hit its deadline.
	StopReasonTimeout StopReason = "timeout"

	// StopReasonError indicates an unexpected fault ended the run.
	StopReasonError StopReason = "error"
)

// ToolKind represents the category of tool being invoked.
// Helps clients choose appropriate icons and UI treatment.
type ToolKind string

const (
	ToolKindRead     ToolKind = "read"
	ToolKindWrite    ToolKind = "write"
	ToolKindExecute  ToolKind = "execute"
	ToolKindSearch   ToolKind = "search"
	ToolKindDelegate ToolKind = "delegate"
	ToolKindOther    ToolKind = "other"
)

// TokenUsage tracks token consumption during agent execution.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates another usage report.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
