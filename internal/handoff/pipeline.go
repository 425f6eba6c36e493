package handoff

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/model"
)

// Delivery is an accepted handoff plus the turn context the sinks need.
type Delivery struct {
	Timestamp time.Time
	BrandKey  string
	Brand     brand.Config
	ThreadID  string
	VisitorID string
	SessionID string
	Source    string
	Meta      json.RawMessage
	Handoff   model.Handoff
}

// Deliverer forwards an accepted handoff to one external sink. Each sink is
// independently best-effort: an error is logged and never blocks the other
// sinks or the user-visible response.
type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Pipeline is the single gating path every handoff candidate passes through,
// regardless of which producer detected it.
type Pipeline struct {
	producers []Producer
	dedup     DedupStore
	sinks     []Deliverer
	logger    *slog.Logger
}

// NewPipeline creates the pipeline with the text producers in confidence
// order (fenced block before heuristic inference).
func NewPipeline(dedup DedupStore, sinks []Deliverer, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		producers: []Producer{FencedBlockProducer{}, InferredProducer{}},
		dedup:     dedup,
		sinks:     sinks,
		logger:    logger,
	}
}

// Detect runs the text producers in order and returns the first candidate.
// The explicit tool-call path bypasses Detect: the orchestrator builds its
// candidate directly from parsed tool arguments.
func (p *Pipeline) Detect(text TurnText) *Candidate {
	for _, producer := range p.producers {
		if cand, ok := producer.Produce(text); ok {
			return cand
		}
	}
	return nil
}

// Process gates one candidate: sanitize, validate against the brand's
// schema, dedup per thread, then deliver to every sink. It returns the
// sanitized handoff when the candidate was accepted, and nil when it was
// gated. Gating is silent toward the end user: the turn's text response is
// unaffected either way.
func (p *Pipeline) Process(ctx context.Context, d Delivery, cand *Candidate) *model.Handoff {
	if cand == nil {
		return nil
	}

	clean := Sanitize(cand.Handoff.Payload, d.Brand)
	if err := Validate(clean, d.Brand); err != nil {
		p.logger.Info("handoff: candidate gated",
			"thread_id", d.ThreadID, "source", cand.Source, "reason", err)
		return nil
	}

	// Record the fingerprint before delivery: a sink failure must not cause
	// the same lead to be re-delivered on a later turn of this thread.
	fp := Fingerprint(clean)
	if !p.dedup.Remember(ctx, d.ThreadID, fp) {
		p.logger.Info("handoff: duplicate payload suppressed",
			"thread_id", d.ThreadID, "source", cand.Source)
		return nil
	}

	accepted := model.Handoff{Kind: cand.Handoff.Kind, Payload: clean}
	if accepted.Kind == "" {
		accepted.Kind = model.HandoffKindCustomerRequest
	}
	d.Handoff = accepted

	for _, sink := range p.sinks {
		if err := sink.Deliver(ctx, d); err != nil {
			p.logger.Error("handoff: sink delivery failed",
				"sink", sink.Name(), "thread_id", d.ThreadID, "error", err)
		}
	}

	p.logger.Info("handoff: accepted",
		"thread_id", d.ThreadID, "source", cand.Source, "kind", accepted.Kind)
	return &accepted
}
