package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func record(tool string, success bool) ToolCallRecord {
	return ToolCallRecord{Tool: tool, Success: success, Timestamp: time.Unix(0, 0), CallID: "call_" + tool}
}

func TestCompute_ThreeSucceededOneFailed(t *testing.T) {
	records := []ToolCallRecord{
		record("view_file", true),
		record("exec", true),
		record("edit_file", true),
		record("exec", false),
	}

	ev := Compute(records, false)

	assert.Equal(t, 4, ev.TotalCalls)
	sum := 0
	for _, n := range ev.ToolCounts {
		sum += n
	}
	assert.Equal(t, 4, sum)
	assert.Equal(t, map[string]int{"view_file": 1, "exec": 2, "edit_file": 1}, ev.ToolCounts)
	assert.Equal(t, "Tool evidence (from execution log):\n"+
		"Tools used: edit_file(1), exec(2), view_file(1)\n"+
		"Total tool calls: 4\n"+
		"Delegations: 0", ev.Summary)
}

func TestCompute_Idempotent(t *testing.T) {
	records := []ToolCallRecord{
		record("grep", true),
		record("delegate", false),
		record("delegate", true),
		record("view_file", true),
	}

	first := Compute(records, false)
	second := Compute(records, false)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first, second)
}

func TestCompute_DelegationWording(t *testing.T) {
	records := []ToolCallRecord{
		record("delegate", true),
		record("delegate", false),
		record("exec", true),
	}

	primary := Compute(records, false)
	assert.Equal(t, 2, primary.DelegateAttempts)
	assert.Equal(t, 1, primary.SuccessfulDelegateCount)
	assert.Contains(t, primary.Summary, "Delegations: 1 succeeded (1/2 succeeded)")

	allFailed := Compute([]ToolCallRecord{record("delegate", false)}, false)
	assert.Contains(t, allFailed.Summary, "Delegations: 0 succeeded (0/1 succeeded)")

	delegated := Compute([]ToolCallRecord{record("exec", true)}, true)
	assert.Contains(t, delegated.Summary, "Delegations: 0 (subagents cannot delegate)")
}

func TestCompute_Empty(t *testing.T) {
	ev := Compute(nil, false)

	assert.Equal(t, 0, ev.TotalCalls)
	assert.Equal(t, "Tool evidence (from execution log):\n"+
		"Tools used: none\n"+
		"Total tool calls: 0\n"+
		"Delegations: 0", ev.Summary)
}
