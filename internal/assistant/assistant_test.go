package assistant

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/eekr1/emlak-ymh/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chunkedReader yields the underlying data in fixed-size reads so tests can
// force SSE records to straddle read boundaries.
type chunkedReader struct {
	data  []byte
	chunk int
	off   int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if r.off+n > len(r.data) {
		n = len(r.data) - r.off
	}
	copy(p, r.data[r.off:r.off+n])
	r.off += n
	return n, nil
}

const sampleStream = "event: thread.message.delta\n" +
	`data: {"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"Merhaba"}}]}}` + "\n\n" +
	": keep-alive\n\n" +
	`data: {"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":" dünya"}}]}}` + "\n\n" +
	`data: {"object":"thread.run","id":"run_1","status":"completed"}` + "\n\n" +
	"data: [DONE]\n\n"

func collectEvents(t *testing.T, sc *Scanner) []*Event {
	t.Helper()
	var events []*Event
	for {
		evt, ok := sc.Next()
		if !ok {
			return events
		}
		events = append(events, evt)
	}
}

func TestScannerParsesStream(t *testing.T) {
	sc := NewScanner(strings.NewReader(sampleStream), testLogger())
	events := collectEvents(t, sc)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if got := events[0].TextDelta(); got != "Merhaba" {
		t.Fatalf("first delta = %q", got)
	}
	if got := events[1].TextDelta(); got != " dünya" {
		t.Fatalf("second delta = %q", got)
	}
	if events[2].Object != ObjectThreadRun || events[2].Status != StatusCompleted {
		t.Fatalf("terminal event = %+v", events[2])
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("unexpected scanner error: %v", err)
	}
}

func TestScannerChunkBoundaries(t *testing.T) {
	// The parsed events must be identical no matter where the reads split.
	for _, chunk := range []int{1, 2, 3, 7, 16, 64, len(sampleStream)} {
		sc := NewScanner(&chunkedReader{data: []byte(sampleStream), chunk: chunk}, testLogger())
		events := collectEvents(t, sc)
		if len(events) != 3 {
			t.Fatalf("chunk %d: expected 3 events, got %d", chunk, len(events))
		}
		if got := events[0].TextDelta() + events[1].TextDelta(); got != "Merhaba dünya" {
			t.Fatalf("chunk %d: text = %q", chunk, got)
		}
	}
}

func TestScannerStopsAtDone(t *testing.T) {
	stream := "data: [DONE]\n\n" +
		`data: {"object":"thread.run","id":"run_after","status":"completed"}` + "\n\n"
	sc := NewScanner(strings.NewReader(stream), testLogger())
	if events := collectEvents(t, sc); len(events) != 0 {
		t.Fatalf("events after the sentinel must not be yielded, got %d", len(events))
	}
	// Subsequent calls stay terminated.
	if _, ok := sc.Next(); ok {
		t.Fatal("scanner must stay done after the sentinel")
	}
}

func TestScannerSkipsMalformed(t *testing.T) {
	stream := "data: {not json\n\n" +
		`data: {"object":"thread.run","id":"run_1","status":"in_progress"}` + "\n\n" +
		"data: [DONE]\n\n"
	sc := NewScanner(strings.NewReader(stream), testLogger())
	events := collectEvents(t, sc)
	if len(events) != 1 || events[0].ID != "run_1" {
		t.Fatalf("expected the one valid event, got %+v", events)
	}
	if sc.Skipped() != 1 {
		t.Fatalf("skipped = %d, want 1", sc.Skipped())
	}
}

func TestScannerPreservesRawPayload(t *testing.T) {
	payload := `{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"a"}}]}}`
	sc := NewScanner(strings.NewReader("data: "+payload+"\n\ndata: [DONE]\n\n"), testLogger())
	evt, ok := sc.Next()
	if !ok {
		t.Fatal("expected an event")
	}
	if string(evt.Raw) != payload {
		t.Fatalf("raw payload altered: %s", evt.Raw)
	}
}

func TestEventToolCallDeltas(t *testing.T) {
	payload := `{"object":"thread.run.step.delta","delta":{"step_details":{"type":"tool_calls","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"register_handoff","arguments":"{\"con"}}]}}}`
	var evt Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		t.Fatal(err)
	}
	deltas := evt.ToolCallDeltas()
	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta, got %d", len(deltas))
	}
	if deltas[0].Function == nil || deltas[0].Function.Name != "register_handoff" {
		t.Fatalf("unexpected delta %+v", deltas[0])
	}
	if evt.TextDelta() != "" {
		t.Fatal("a step delta carries no text")
	}
}

func TestToolCallBufferMergesFragments(t *testing.T) {
	b := NewToolCallBuffer()

	// Name and ID arrive on the first fragment; only argument text follows.
	b.Add(ToolCallDelta{Index: 0, ID: "call_1", Type: "function", Function: &FunctionDelta{Name: "register_handoff", Arguments: `{"contact":`}})
	b.Add(ToolCallDelta{Index: 1, ID: "call_2", Type: "function", Function: &FunctionDelta{Name: "kb_search", Arguments: `{"query"`}})
	b.Add(ToolCallDelta{Index: 0, Function: &FunctionDelta{Arguments: `{"name":"Ayşe"}}`}})
	b.Add(ToolCallDelta{Index: 1, Function: &FunctionDelta{Arguments: `:"kiralık"}`}})

	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}
	calls := b.Calls()
	if calls[0].Index != 0 || calls[1].Index != 1 {
		t.Fatalf("calls not ordered by index: %+v", calls)
	}
	if calls[0].ID != "call_1" || calls[0].Name != "register_handoff" {
		t.Fatalf("call 0 identity lost: %+v", calls[0])
	}
	if calls[0].Args != `{"contact":{"name":"Ayşe"}}` {
		t.Fatalf("call 0 args = %q", calls[0].Args)
	}
	if calls[1].Args != `{"query":"kiralık"}` {
		t.Fatalf("call 1 args = %q", calls[1].Args)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Fatal("reset must clear the buffer")
	}
}

func TestClientHeadersAndThreadLifecycle(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/threads" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_abc"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	threadID, err := c.CreateThread(t.Context(), "yilmaz")
	if err != nil {
		t.Fatal(err)
	}
	if threadID != "thread_abc" {
		t.Fatalf("threadID = %q", threadID)
	}
	if got := gotHeaders.Get("Authorization"); got != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", got)
	}
	if got := gotHeaders.Get("OpenAI-Beta"); got != "assistants=v2" {
		t.Fatalf("OpenAI-Beta = %q", got)
	}
	meta, _ := gotBody["metadata"].(map[string]any)
	if meta["brandKey"] != "yilmaz" {
		t.Fatalf("thread metadata = %v", gotBody["metadata"])
	}
}

func TestClientCreateRun(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(Run{ID: "run_1", Status: StatusQueued, ThreadID: "thread_1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	run, err := c.CreateRun(t.Context(), "thread_1", RunParams{
		AssistantID:  "asst_1",
		Instructions: "Sen bir emlak asistanısın.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != "run_1" || run.Status != StatusQueued {
		t.Fatalf("run = %+v", run)
	}
	if gotBody["assistant_id"] != "asst_1" {
		t.Fatalf("assistant_id = %v", gotBody["assistant_id"])
	}
	if _, ok := gotBody["stream"]; ok {
		t.Fatal("synchronous run creation must not request streaming")
	}
}

func TestClientStreamRun(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, sampleStream)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	body, err := c.StreamRun(t.Context(), "thread_1", RunParams{AssistantID: "asst_1"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = body.Close() }()

	if gotBody["stream"] != true {
		t.Fatal("streaming run creation must set stream")
	}
	events := collectEvents(t, NewScanner(body, testLogger()))
	if len(events) != 3 {
		t.Fatalf("expected 3 events through the scanner, got %d", len(events))
	}
}

func TestClientUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limit"}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	_, err := c.CreateThread(t.Context(), "")
	if err == nil {
		t.Fatal("expected an error")
	}
	var ue *model.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if ue.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d", ue.Status)
	}
	if !strings.Contains(ue.Body, "rate limit") {
		t.Fatalf("body = %q", ue.Body)
	}
}

func TestClientSubmitToolOutputs(t *testing.T) {
	var gotBody struct {
		ToolOutputs []ToolOutput `json:"tool_outputs"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/threads/thread_1/runs/run_1/submit_tool_outputs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(Run{ID: "run_1", Status: StatusInProgress})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	run, err := c.SubmitToolOutputsSync(t.Context(), "thread_1", "run_1", []ToolOutput{
		{ToolCallID: "call_1", Output: `{"status":"ok"}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusInProgress {
		t.Fatalf("run status = %q", run.Status)
	}
	if len(gotBody.ToolOutputs) != 1 || gotBody.ToolOutputs[0].ToolCallID != "call_1" {
		t.Fatalf("submitted outputs = %+v", gotBody.ToolOutputs)
	}
}

func TestClientListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("order"); got != "desc" {
			t.Errorf("order = %q", got)
		}
		_, _ = io.WriteString(w, `{"data":[
			{"id":"msg_2","role":"assistant","content":[{"type":"text","text":{"value":"Tabii, yardımcı olurum."}}]},
			{"id":"msg_1","role":"user","content":[{"type":"text","text":{"value":"Merhaba"}}]}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test", testLogger())
	msgs, err := c.ListMessages(t.Context(), "thread_1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if got := LatestAssistantText(msgs); got != "Tabii, yardımcı olurum." {
		t.Fatalf("latest assistant text = %q", got)
	}
}

func TestLatestAssistantTextNone(t *testing.T) {
	msgs := []Message{{ID: "msg_1", Role: "user"}}
	if got := LatestAssistantText(msgs); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestIsFailureStatus(t *testing.T) {
	for _, s := range []string{StatusFailed, StatusCancelled, StatusExpired} {
		if !IsFailureStatus(s) {
			t.Fatalf("%s must be a failure status", s)
		}
	}
	for _, s := range []string{StatusQueued, StatusInProgress, StatusRequiresAction, StatusCompleted} {
		if IsFailureStatus(s) {
			t.Fatalf("%s must not be a failure status", s)
		}
	}
}
