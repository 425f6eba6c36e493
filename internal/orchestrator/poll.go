package orchestrator

import (
	"context"
	"time"

	"github.com/eekr1/emlak-ymh/internal/assistant"
	"github.com/eekr1/emlak-ymh/internal/model"
)

// drivePoll runs the turn over the synchronous endpoints: create the run,
// then poll its status until terminal, resolving tool calls whenever the
// run blocks on requires_action. Returns the final assistant text.
func (o *Orchestrator) drivePoll(ctx context.Context, t *turn, params assistant.RunParams) (string, error) {
	run, err := o.client.CreateRun(ctx, t.in.ThreadID, params)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(o.opts.PollTimeout)
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for run.Status != assistant.StatusCompleted {
		if assistant.IsFailureStatus(run.Status) {
			return "", &model.RunFailedError{RunID: run.ID, Status: run.Status}
		}

		if run.Status == assistant.StatusRequiresAction {
			run, err = o.submitPending(ctx, t, run)
			if err != nil {
				return "", err
			}
			continue
		}

		if time.Now().After(deadline) {
			return "", model.ErrRunTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		run, err = o.client.GetRun(ctx, t.in.ThreadID, run.ID)
		if err != nil {
			return "", err
		}
	}

	msgs, err := o.client.ListMessages(ctx, t.in.ThreadID, 10)
	if err != nil {
		return "", err
	}
	return assistant.LatestAssistantText(msgs), nil
}

// submitPending resolves the run's pending tool calls and submits their
// outputs synchronously.
func (o *Orchestrator) submitPending(ctx context.Context, t *turn, run assistant.Run) (assistant.Run, error) {
	calls := pendingFromRun(run)
	if len(calls) == 0 {
		// A requires_action run with nothing to submit cannot progress.
		return assistant.Run{}, &model.RunFailedError{RunID: run.ID, Status: run.Status}
	}
	outputs := o.resolveToolCalls(ctx, t, calls)
	return o.client.SubmitToolOutputsSync(ctx, t.in.ThreadID, run.ID, outputs)
}

func pendingFromRun(run assistant.Run) []pendingCall {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	required := run.RequiredAction.SubmitToolOutputs.ToolCalls
	calls := make([]pendingCall, 0, len(required))
	for _, rc := range required {
		calls = append(calls, pendingCall{
			ID:   rc.ID,
			Name: rc.Function.Name,
			Args: rc.Function.Arguments,
		})
	}
	return calls
}
