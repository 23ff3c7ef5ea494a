// Package evidence derives a verifiable summary of what a run actually did
// from its execution log, independent of anything the model claims.
package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/atinylittleshell/gsh-agent/internal/tools"
)

// ToolCallRecord is one attempted tool call as seen by the dispatcher.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	CallID    string    `json:"callId"`
}

// Evidence is always computed from records, never stored on its own.
type Evidence struct {
	ToolCounts              map[string]int
	TotalCalls              int
	DelegateAttempts        int
	SuccessfulDelegateCount int
	Summary                 string
}

// Compute derives evidence from records. delegated selects the wording used
// by subagents, which can never delegate further.
func Compute(records []ToolCallRecord, delegated bool) Evidence {
	ev := Evidence{ToolCounts: make(map[string]int)}
	for _, r := range records {
		ev.ToolCounts[r.Tool]++
		ev.TotalCalls++
		if r.Tool == string(tools.NameDelegate) {
			ev.DelegateAttempts++
			if r.Success {
				ev.SuccessfulDelegateCount++
			}
		}
	}
	ev.Summary = render(ev, delegated)
	return ev
}

func render(ev Evidence, delegated bool) string {
	names := lo.Keys(ev.ToolCounts)
	sort.Strings(names)

	used := "none"
	if len(names) > 0 {
		used = strings.Join(lo.Map(names, func(name string, _ int) string {
			return fmt.Sprintf("%s(%d)", name, ev.ToolCounts[name])
		}), ", ")
	}

	var delegations string
	switch {
	case delegated:
		delegations = "Delegations: 0 (subagents cannot delegate)"
	case ev.DelegateAttempts > 0:
		delegations = fmt.Sprintf("Delegations: %d succeeded (%d/%d succeeded)",
			ev.SuccessfulDelegateCount, ev.SuccessfulDelegateCount, ev.DelegateAttempts)
	default:
		delegations = "Delegations: 0"
	}

	return strings.Join([]string{
		"Tool evidence (from execution log):",
		"Tools used: " + used,
		fmt.Sprintf("Total tool calls: %d", ev.TotalCalls),
		delegations,
	}, "\n")
}
