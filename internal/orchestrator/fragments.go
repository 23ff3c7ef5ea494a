package orchestrator

import "strings"

type fragment struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (f *fragment) complete() bool {
	return f.id != "" && f.name != ""
}

// fragmentBuilder accumulates streamed tool call deltas by index. Calls come
// out in the order their index was first seen, not in index order.
type fragmentBuilder struct {
	byIndex map[int]*fragment
	order   []int
}

func newFragmentBuilder() *fragmentBuilder {
	return &fragmentBuilder{byIndex: make(map[int]*fragment)}
}

func (b *fragmentBuilder) add(d ToolCallDelta) {
	f, ok := b.byIndex[d.Index]
	if !ok {
		f = &fragment{index: d.Index}
		b.byIndex[d.Index] = f
		b.order = append(b.order, d.Index)
	}
	if d.ID != "" {
		f.id = d.ID
	}
	if d.Name != "" {
		f.name = d.Name
	}
	f.args.WriteString(d.Arguments)
}

func (b *fragmentBuilder) empty() bool {
	return len(b.order) == 0
}

// finalize returns the complete calls and the fragments that never received
// both an id and a name.
func (b *fragmentBuilder) finalize() (calls []ToolCall, dropped []*fragment) {
	for _, idx := range b.order {
		f := b.byIndex[idx]
		if !f.complete() {
			dropped = append(dropped, f)
			continue
		}
		calls = append(calls, ToolCall{ID: f.id, Name: f.name, RawArguments: f.args.String()})
	}
	return calls, dropped
}
