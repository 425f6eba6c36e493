package assistant

import "sort"

// ToolCall is a fully reassembled tool invocation.
type ToolCall struct {
	Index int
	ID    string
	Type  string
	Name  string
	Args  string // accumulated JSON argument text
}

// ToolCallBuffer reconstructs complete tool calls from argument deltas keyed
// by position index. Fragments are appended in arrival order; the call ID and
// function name are captured whenever present (the upstream keeps them stable
// once set, so last-write-wins is safe).
type ToolCallBuffer struct {
	calls map[int]*ToolCall
}

// NewToolCallBuffer creates an empty accumulator.
func NewToolCallBuffer() *ToolCallBuffer {
	return &ToolCallBuffer{calls: make(map[int]*ToolCall)}
}

// Add merges one delta into the accumulating call for its index.
func (b *ToolCallBuffer) Add(d ToolCallDelta) {
	call, ok := b.calls[d.Index]
	if !ok {
		call = &ToolCall{Index: d.Index}
		b.calls[d.Index] = call
	}
	if d.ID != "" {
		call.ID = d.ID
	}
	if d.Type != "" {
		call.Type = d.Type
	}
	if d.Function != nil {
		if d.Function.Name != "" {
			call.Name = d.Function.Name
		}
		call.Args += d.Function.Arguments
	}
}

// Len returns the number of distinct call indices seen.
func (b *ToolCallBuffer) Len() int {
	return len(b.calls)
}

// Calls snapshots the accumulated calls ordered by index. When the run
// blocks on requires_action this is the complete pending set for the
// resolution cycle.
func (b *ToolCallBuffer) Calls() []ToolCall {
	out := make([]ToolCall, 0, len(b.calls))
	for _, c := range b.calls {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Reset clears the buffer for the next requires_action episode. Indices are
// never revisited after their outputs have been submitted.
func (b *ToolCallBuffer) Reset() {
	b.calls = make(map[int]*ToolCall)
}
