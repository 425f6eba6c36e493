// Package assistant is the client for the hosted assistant run API: thread
// and run lifecycle calls, the SSE event stream reader, and the accumulator
// that reassembles tool calls from incremental argument deltas.
package assistant

import "encoding/json"

// Event object discriminators observed on the run event stream.
const (
	ObjectThreadRun    = "thread.run"
	ObjectMessageDelta = "thread.message.delta"
	ObjectStepDelta    = "thread.run.step.delta"
)

// Run statuses. requires_action is not terminal: the caller must submit tool
// outputs before the run can progress.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusCancelled      = "cancelled"
	StatusExpired        = "expired"
)

// IsFailureStatus reports whether status is a failure terminal state.
func IsFailureStatus(status string) bool {
	switch status {
	case StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Event is one parsed record from the run event stream. Raw preserves the
// exact payload bytes so text deltas can be relayed to the client verbatim.
type Event struct {
	Object string `json:"object"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Delta  *Delta `json:"delta,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Delta carries the incremental portion of a message or run-step event.
type Delta struct {
	Content     []ContentPart `json:"content,omitempty"`
	StepDetails *StepDetails  `json:"step_details,omitempty"`
}

// ContentPart is one piece of incremental message content.
type ContentPart struct {
	Type string     `json:"type"`
	Text *TextValue `json:"text,omitempty"`
}

// TextValue wraps a text fragment.
type TextValue struct {
	Value string `json:"value"`
}

// StepDetails carries tool-call deltas inside a run-step event.
type StepDetails struct {
	Type      string          `json:"type,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is an incremental fragment of one tool call, keyed by its
// position index. ID and function name may arrive on any delta for the index.
type ToolCallDelta struct {
	Index    int            `json:"index"`
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type,omitempty"`
	Function *FunctionDelta `json:"function,omitempty"`
}

// FunctionDelta carries a fragment of a function invocation.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// TextDelta extracts the concatenated text fragments from a message-delta
// event, or "" for any other event.
func (e *Event) TextDelta() string {
	if e.Object != ObjectMessageDelta || e.Delta == nil {
		return ""
	}
	var out string
	for _, part := range e.Delta.Content {
		if part.Type == "text" && part.Text != nil {
			out += part.Text.Value
		}
	}
	return out
}

// ToolCallDeltas returns the tool-call fragments of a step-delta event,
// or nil for any other event.
func (e *Event) ToolCallDeltas() []ToolCallDelta {
	if e.Object != ObjectStepDelta || e.Delta == nil || e.Delta.StepDetails == nil {
		return nil
	}
	return e.Delta.StepDetails.ToolCalls
}
