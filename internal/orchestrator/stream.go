package orchestrator

import (
	"context"
	"io"
	"strings"

	"github.com/eekr1/emlak-ymh/internal/assistant"
	"github.com/eekr1/emlak-ymh/internal/model"
)

// maxStreamRounds bounds the requires_action/resubmit cycle so a
// misbehaving upstream cannot loop a turn forever.
const maxStreamRounds = 8

// streamState accumulates across one upstream stream (and its
// continuations after tool output submission).
type streamState struct {
	runID          string
	requiresAction bool
	failureStatus  string
	text           strings.Builder
	toolCalls      *assistant.ToolCallBuffer
	clientGone     bool
}

// driveStream runs the turn over the SSE endpoints. Text deltas are relayed
// to the sink as they arrive; tool-call deltas are reassembled and, when the
// run blocks, resolved and resubmitted in stream mode. A client disconnect
// stops the relay but the upstream stream is still consumed to the end so
// tool calls and the transcript are not lost.
func (o *Orchestrator) driveStream(ctx context.Context, t *turn, params assistant.RunParams, sink DeltaSink) (string, error) {
	body, err := o.client.StreamRun(ctx, t.in.ThreadID, params)
	if err != nil {
		return "", err
	}

	st := &streamState{toolCalls: assistant.NewToolCallBuffer()}

	for round := 0; ; round++ {
		if err := o.consumeStream(body, st, sink); err != nil {
			return "", err
		}

		if st.failureStatus != "" {
			return "", &model.RunFailedError{RunID: st.runID, Status: st.failureStatus}
		}
		if !st.requiresAction {
			break
		}
		if round+1 >= maxStreamRounds {
			o.logger.Error("orchestrator: stream resubmit limit reached",
				"thread_id", t.in.ThreadID, "run_id", st.runID)
			return "", model.ErrRunTimeout
		}

		calls := pendingFromBuffer(st.toolCalls)
		if len(calls) == 0 || st.runID == "" {
			return "", &model.RunFailedError{RunID: st.runID, Status: assistant.StatusRequiresAction}
		}
		outputs := o.resolveToolCalls(ctx, t, calls)

		st.requiresAction = false
		st.toolCalls.Reset()

		body, err = o.client.SubmitToolOutputsStream(ctx, t.in.ThreadID, st.runID, outputs)
		if err != nil {
			return "", err
		}
	}

	return st.text.String(), nil
}

// consumeStream reads one upstream stream to its end, updating st.
func (o *Orchestrator) consumeStream(body io.ReadCloser, st *streamState, sink DeltaSink) error {
	defer body.Close()

	sc := assistant.NewScanner(body, o.logger)
	for {
		evt, ok := sc.Next()
		if !ok {
			break
		}

		if evt.Object == assistant.ObjectThreadRun && evt.ID != "" {
			st.runID = evt.ID
			switch {
			case evt.Status == assistant.StatusRequiresAction:
				st.requiresAction = true
			case assistant.IsFailureStatus(evt.Status):
				st.failureStatus = evt.Status
			}
		}

		if text := evt.TextDelta(); text != "" {
			st.text.WriteString(text)
			if !st.clientGone && sink != nil {
				if err := sink.OnEvent(evt.Raw); err != nil {
					st.clientGone = true
					o.logger.Debug("orchestrator: client gone, draining upstream")
				}
			}
		}

		for _, d := range evt.ToolCallDeltas() {
			st.toolCalls.Add(d)
		}
	}

	return sc.Err()
}

func pendingFromBuffer(buf *assistant.ToolCallBuffer) []pendingCall {
	accumulated := buf.Calls()
	calls := make([]pendingCall, 0, len(accumulated))
	for _, tc := range accumulated {
		calls = append(calls, pendingCall{ID: tc.ID, Name: tc.Name, Args: tc.Args})
	}
	return calls
}
