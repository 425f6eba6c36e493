// Package handoff extracts structured lead records from conversation turns
// and drives the shared sanitize → validate → dedup → deliver pipeline.
//
// Three producers can yield a candidate for a turn, tried in confidence
// order: the explicit tool call (handled by the orchestrator), a fenced
// ```handoff block in the assistant text, and heuristic inference over the
// combined conversation text. All three paths converge on one Candidate type
// and one gating pipeline.
package handoff

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// Source identifies which producer yielded a candidate.
type Source string

const (
	SourceToolCall    Source = "tool_call"
	SourceFencedBlock Source = "fenced_block"
	SourceInferred    Source = "inferred"
)

// Candidate is a handoff detected by one producer, before gating.
type Candidate struct {
	Handoff model.Handoff
	Source  Source
}

// TurnText is the conversation text a producer may inspect.
type TurnText struct {
	UserMessage  string
	AssistantRaw string
}

// Producer detects a handoff candidate in a turn's text.
type Producer interface {
	Source() Source
	Produce(text TurnText) (*Candidate, bool)
}

var (
	// anyFenceRe matches every fenced block regardless of label, for
	// client-text cleaning.
	anyFenceRe = regexp.MustCompile("(?s)```.*?```")

	// handoffFenceRe captures the JSON body of a ```handoff block.
	handoffFenceRe = regexp.MustCompile("(?s)```handoff\\s*(.*?)```")
)

// StripFences removes all fenced blocks from assistant text. The user never
// sees a fence, even when the assistant emits several.
func StripFences(s string) string {
	return strings.TrimSpace(anyFenceRe.ReplaceAllString(s, ""))
}

// FencedBlockProducer extracts a handoff from an explicit ```handoff block.
type FencedBlockProducer struct{}

// Source implements Producer.
func (FencedBlockProducer) Source() Source { return SourceFencedBlock }

// Produce parses the first ```handoff block in the assistant text. The body
// may be the documented envelope ({"handoff": "<kind>", "payload": {...}}) or
// a bare payload object.
func (FencedBlockProducer) Produce(text TurnText) (*Candidate, bool) {
	m := handoffFenceRe.FindStringSubmatch(text.AssistantRaw)
	if m == nil {
		return nil, false
	}
	body := strings.TrimSpace(m[1])
	if body == "" {
		return nil, false
	}

	var envelope struct {
		Handoff string               `json:"handoff"`
		Payload model.HandoffPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Handoff != "" {
		return &Candidate{
			Handoff: model.Handoff{Kind: envelope.Handoff, Payload: envelope.Payload},
			Source:  SourceFencedBlock,
		}, true
	}

	var payload model.HandoffPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, false
	}
	if payload.Contact.Name == "" && payload.Contact.Phone == "" && payload.Request.Summary == "" {
		return nil, false
	}
	return &Candidate{
		Handoff: model.Handoff{Kind: model.HandoffKindCustomerRequest, Payload: payload},
		Source:  SourceFencedBlock,
	}, true
}
