// Package orchestrator drives one conversation turn end to end: append the
// user message, start a run, resolve tool calls, and gate any handoff the
// turn produced. The transport (streaming relay or status polling) is the
// caller's choice; the turn semantics are identical on both.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/eekr1/emlak-ymh/internal/assistant"
	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/handoff"
	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/retrieval"
)

// Options tunes the run drivers.
type Options struct {
	DefaultAssistantID string
	PollInterval       time.Duration
	PollTimeout        time.Duration
	RetrievalTopK      int
}

// TurnLogger records transcript entries. The chatlog buffer satisfies it.
type TurnLogger interface {
	Log(entry model.ChatLogEntry)
}

// DeltaSink receives upstream event frames during a streamed turn, in
// arrival order. An error return means the client is gone; the driver keeps
// consuming the upstream stream but stops relaying.
type DeltaSink interface {
	OnEvent(raw json.RawMessage) error
}

// TurnInput is one user message plus its attribution.
type TurnInput struct {
	BrandKey  string
	ThreadID  string
	Message   string
	VisitorID string
	SessionID string
	Source    string
	Meta      json.RawMessage
}

// TurnResult is the outcome of a finished turn.
type TurnResult struct {
	ThreadID string
	// Text is the assistant's reply with fenced blocks removed. Never shows
	// wire-format artifacts to the end user.
	Text string
	// RawText is the assistant's reply as produced, fences included.
	RawText string
	// Handoff is non-nil when this turn produced an accepted handoff.
	Handoff *model.Handoff
}

// Orchestrator coordinates the per-turn pipeline.
type Orchestrator struct {
	client   *assistant.Client
	brands   *brand.Registry
	searcher retrieval.Searcher // nil disables context augmentation
	pipeline *handoff.Pipeline
	logs     TurnLogger
	logger   *slog.Logger
	opts     Options
}

// New creates an orchestrator. searcher may be nil.
func New(client *assistant.Client, brands *brand.Registry, searcher retrieval.Searcher,
	pipeline *handoff.Pipeline, logs TurnLogger, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 1200 * time.Millisecond
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 180 * time.Second
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 5
	}
	return &Orchestrator{
		client:   client,
		brands:   brands,
		searcher: searcher,
		pipeline: pipeline,
		logs:     logs,
		logger:   logger,
		opts:     opts,
	}
}

// EnsureThread returns threadID unchanged when set, otherwise creates a new
// upstream thread tagged with the brand key.
func (o *Orchestrator) EnsureThread(ctx context.Context, brandKey, threadID string) (string, error) {
	if threadID != "" {
		return threadID, nil
	}
	return o.client.CreateThread(ctx, brandKey)
}

// turn carries the state of one in-flight turn across the driver and the
// tool resolution path.
type turn struct {
	in  TurnInput
	cfg brand.Config

	// accepted is set the moment a tool-call handoff clears the pipeline,
	// so the text producers are skipped for the rest of the turn.
	accepted *model.Handoff
}

// RunTurn executes one turn. With a nil sink the run is driven by status
// polling; with a sink it is driven by the upstream event stream and text
// deltas are relayed as they arrive.
func (o *Orchestrator) RunTurn(ctx context.Context, in TurnInput, sink DeltaSink) (TurnResult, error) {
	cfgPtr := o.brands.Get(in.BrandKey)
	if cfgPtr == nil {
		return TurnResult{}, model.ErrUnknownBrand
	}
	t := &turn{in: in, cfg: *cfgPtr}

	// Transcript logging is fire-and-forget throughout.
	o.log(t, model.ChatLogEntry{Role: model.RoleUser, Text: in.Message, RawText: in.Message})

	if err := o.client.AppendMessage(ctx, in.ThreadID, model.RoleUser, in.Message); err != nil {
		return TurnResult{}, err
	}

	params := o.runParams(ctx, t)

	var (
		rawText string
		err     error
	)
	if sink == nil {
		rawText, err = o.drivePoll(ctx, t, params)
	} else {
		rawText, err = o.driveStream(ctx, t, params, sink)
	}
	if err != nil {
		return TurnResult{}, err
	}

	return o.finishTurn(ctx, t, rawText), nil
}

// runParams assembles the run request: brand persona instructions augmented
// with retrieved knowledge, the brand's tools, and the brand-or-global
// assistant. Retrieval failure degrades to un-augmented instructions.
func (o *Orchestrator) runParams(ctx context.Context, t *turn) assistant.RunParams {
	instructions := brand.Instructions(t.in.BrandKey, t.cfg, time.Now())

	if o.searcher != nil {
		chunks, err := o.searcher.Search(ctx, t.in.BrandKey, t.in.Message, o.opts.RetrievalTopK)
		switch {
		case err != nil:
			o.logger.Warn("orchestrator: context retrieval failed",
				"brand_key", t.in.BrandKey, "error", err)
		case len(chunks) > 0:
			o.logger.Debug("orchestrator: context retrieved",
				"brand_key", t.in.BrandKey, "chunks", len(chunks))
			instructions = retrieval.BuildContext(instructions, chunks)
		}
	}

	assistantID := t.cfg.AssistantID
	if assistantID == "" {
		assistantID = o.opts.DefaultAssistantID
	}

	return assistant.RunParams{
		AssistantID:  assistantID,
		Instructions: instructions,
		Tools:        brand.Tools(t.in.BrandKey),
		Metadata:     map[string]string{"brand_key": t.in.BrandKey},
	}
}

// pendingCall is one fully assembled tool call awaiting an output.
type pendingCall struct {
	ID   string
	Name string
	Args string
}

// isHandoffTool matches the declared handoff function plus any future
// variant an assistant configuration might use.
func isHandoffTool(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "handoff") ||
		strings.Contains(lower, "lead") ||
		lower == brand.HandoffToolName
}

// resolveToolCalls produces an output for every pending call. Handoff calls
// run through the gate pipeline; anything else gets a generic
// acknowledgement so the run can progress.
func (o *Orchestrator) resolveToolCalls(ctx context.Context, t *turn, calls []pendingCall) []assistant.ToolOutput {
	outputs := make([]assistant.ToolOutput, 0, len(calls))
	for _, call := range calls {
		outputs = append(outputs, assistant.ToolOutput{
			ToolCallID: call.ID,
			Output:     o.resolveToolCall(ctx, t, call),
		})
	}
	return outputs
}

func (o *Orchestrator) resolveToolCall(ctx context.Context, t *turn, call pendingCall) string {
	if !isHandoffTool(call.Name) {
		o.logger.Info("orchestrator: unrecognized tool acknowledged",
			"tool", call.Name, "thread_id", t.in.ThreadID)
		return `{"success":true}`
	}

	var payload model.HandoffPayload
	if err := json.Unmarshal([]byte(call.Args), &payload); err != nil {
		o.logger.Warn("orchestrator: tool arguments unparseable",
			"tool", call.Name, "thread_id", t.in.ThreadID, "error", err)
		return fmt.Sprintf(`{"success":false,"error":%q}`, "invalid arguments")
	}

	cand := &handoff.Candidate{
		Source:  handoff.SourceToolCall,
		Handoff: model.Handoff{Kind: model.HandoffKindCustomerRequest, Payload: payload},
	}
	if accepted := o.pipeline.Process(ctx, o.delivery(t), cand); accepted != nil {
		t.accepted = accepted
		o.log(t, model.ChatLogEntry{
			Role:    model.RoleSystem,
			Text:    "[system] tool executed: " + call.Name,
			Handoff: accepted,
		})
	}
	return `{"success":true,"message":"Request received and forwarded."}`
}

// finishTurn strips wire artifacts from the reply, runs the text handoff
// producers when the tool path produced nothing, and logs the assistant turn.
func (o *Orchestrator) finishTurn(ctx context.Context, t *turn, rawText string) TurnResult {
	cleaned := handoff.StripFences(rawText)

	accepted := t.accepted
	if accepted == nil {
		text := handoff.TurnText{UserMessage: t.in.Message, AssistantRaw: rawText}
		if cand := o.pipeline.Detect(text); cand != nil {
			accepted = o.pipeline.Process(ctx, o.delivery(t), cand)
		}
	}

	o.log(t, model.ChatLogEntry{
		Role:    model.RoleAssistant,
		Text:    cleaned,
		RawText: rawText,
		Handoff: accepted,
	})

	return TurnResult{
		ThreadID: t.in.ThreadID,
		Text:     cleaned,
		RawText:  rawText,
		Handoff:  accepted,
	}
}

func (o *Orchestrator) delivery(t *turn) handoff.Delivery {
	return handoff.Delivery{
		Timestamp: time.Now(),
		BrandKey:  t.in.BrandKey,
		Brand:     t.cfg,
		ThreadID:  t.in.ThreadID,
		VisitorID: t.in.VisitorID,
		SessionID: t.in.SessionID,
		Source:    t.in.Source,
		Meta:      t.in.Meta,
	}
}

func (o *Orchestrator) log(t *turn, entry model.ChatLogEntry) {
	if o.logs == nil {
		return
	}
	entry.BrandKey = t.in.BrandKey
	entry.ThreadID = t.in.ThreadID
	entry.VisitorID = t.in.VisitorID
	entry.SessionID = t.in.SessionID
	entry.Source = t.in.Source
	entry.Meta = t.in.Meta
	o.logs.Log(entry)
}
