package orchestrator

import (
	"sync"

	"github.com/atinylittleshell/gsh-agent/internal/evidence"
)

// ExecutionLog is the append-only record of attempted tool calls in a run.
type ExecutionLog struct {
	mu      sync.Mutex
	records []evidence.ToolCallRecord
}

func (l *ExecutionLog) Append(r evidence.ToolCallRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// Records returns a copy of the log.
func (l *ExecutionLog) Records() []evidence.ToolCallRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]evidence.ToolCallRecord(nil), l.records...)
}

func (l *ExecutionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
