package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eekr1/emlak-ymh/internal/assistant"
	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/handoff"
	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/testutil"
)

const testBrands = `{
	"yilmaz": {
		"label": "Yılmaz Emlak",
		"subject_prefix": "[Yılmaz Emlak]",
		"handoff_to": ["ofis@yilmaz.example"],
		"property_fields": true
	}
}`

// captureSink records pipeline deliveries.
type captureSink struct {
	mu         sync.Mutex
	deliveries []handoff.Delivery
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, d handoff.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, d)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

// memLog records transcript entries.
type memLog struct {
	mu      sync.Mutex
	entries []model.ChatLogEntry
}

func (m *memLog) Log(entry model.ChatLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *memLog) byRole(role string) []model.ChatLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ChatLogEntry
	for _, e := range m.entries {
		if e.Role == role {
			out = append(out, e)
		}
	}
	return out
}

// eventSink collects relayed stream frames.
type eventSink struct {
	events []json.RawMessage
	fail   bool
}

func (s *eventSink) OnEvent(raw json.RawMessage) error {
	if s.fail {
		return errors.New("client gone")
	}
	s.events = append(s.events, raw)
	return nil
}

func newTestOrchestrator(t *testing.T, upstream string, sinks []handoff.Deliverer, logs TurnLogger) *Orchestrator {
	t.Helper()
	brands, err := brand.NewRegistry(testBrands)
	if err != nil {
		t.Fatalf("parse brands: %v", err)
	}
	client := assistant.NewClient(upstream, "sk-test", testutil.TestLogger())
	pipeline := handoff.NewPipeline(handoff.NewMemoryDedup(), sinks, testutil.TestLogger())
	return New(client, brands, nil, pipeline, logs, testutil.TestLogger(), Options{
		DefaultAssistantID: "asst_test",
		PollInterval:       5 * time.Millisecond,
		PollTimeout:        2 * time.Second,
	})
}

func sseBody(events ...string) string {
	var b strings.Builder
	for _, e := range events {
		b.WriteString("data: " + e + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func messageListJSON(text string) string {
	msg := map[string]any{
		"data": []map[string]any{
			{
				"id":   "msg_1",
				"role": "assistant",
				"content": []map[string]any{
					{"type": "text", "text": map[string]string{"value": text}},
				},
			},
		},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func TestRunTurnUnknownBrand(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, nil, nil)
	_, err := o.RunTurn(context.Background(), TurnInput{BrandKey: "nope", ThreadID: "t", Message: "m"}, nil)
	if !errors.Is(err, model.ErrUnknownBrand) {
		t.Fatalf("expected ErrUnknownBrand, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("unknown brand must not reach upstream, saw %d calls", calls)
	}
}

func TestRunTurnPollInferredHandoff(t *testing.T) {
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/{id}/runs/{rid}", func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "in_progress"
		if polls >= 2 {
			status = "completed"
		}
		fmt.Fprintf(w, `{"id":"run_1","status":%q}`, status)
	})
	mux.HandleFunc("GET /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, messageListJSON("Talebinizi aldım, ofisimiz sizi arayacak.\n```handoff\n{\"ignored\": true}\n```"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	capture := &captureSink{}
	logs := &memLog{}
	o := newTestOrchestrator(t, srv.URL, []handoff.Deliverer{capture}, logs)

	res, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz",
		ThreadID: "thread_1",
		Message:  "Satılık daire arıyorum. İletişim: Ayşe Yılmaz, 05551234567",
	}, nil)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if strings.Contains(res.Text, "```") {
		t.Fatalf("fences must be stripped from user-facing text: %q", res.Text)
	}
	if res.Handoff == nil {
		t.Fatal("expected an inferred handoff")
	}
	if res.Handoff.Payload.Matter.Category != "satılık" {
		t.Fatalf("expected category satılık, got %q", res.Handoff.Payload.Matter.Category)
	}
	if res.Handoff.Payload.Contact.Name != "Ayşe Yılmaz" {
		t.Fatalf("expected contact name, got %q", res.Handoff.Payload.Contact.Name)
	}
	if capture.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", capture.count())
	}

	// Transcript carries the clean text and the raw text separately.
	assistantEntries := logs.byRole(model.RoleAssistant)
	if len(assistantEntries) != 1 {
		t.Fatalf("expected 1 assistant log entry, got %d", len(assistantEntries))
	}
	if strings.Contains(assistantEntries[0].Text, "```") {
		t.Fatal("logged clean text must not contain fences")
	}
	if !strings.Contains(assistantEntries[0].RawText, "```") {
		t.Fatal("logged raw text must keep fences")
	}
}

func TestRunTurnPollDuplicateSuppressed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"completed"}`)
	})
	mux.HandleFunc("GET /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, messageListJSON("Bilgilerinizi aldım."))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	capture := &captureSink{}
	o := newTestOrchestrator(t, srv.URL, []handoff.Deliverer{capture}, nil)

	in := TurnInput{
		BrandKey: "yilmaz",
		ThreadID: "thread_dup",
		Message:  "Kiralık daire lazım. İletişim: Mehmet Demir, 05329876543",
	}
	for i := 0; i < 2; i++ {
		if _, err := o.RunTurn(context.Background(), in, nil); err != nil {
			t.Fatalf("RunTurn %d failed: %v", i, err)
		}
	}

	if capture.count() != 1 {
		t.Fatalf("repeat of the same payload must be suppressed, got %d deliveries", capture.count())
	}
}

func TestRunTurnPollToolCall(t *testing.T) {
	args := `{"contact":{"name":"Fatma Kaya","phone":"05421112233"},"request":{"summary":"Arsa yatırımı"},"matter":{"category":"arsa"}}`
	submitted := false

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"id":     "run_1",
			"status": "requires_action",
			"required_action": map[string]any{
				"type": "submit_tool_outputs",
				"submit_tool_outputs": map[string]any{
					"tool_calls": []map[string]any{
						{
							"id":   "call_1",
							"type": "function",
							"function": map[string]string{
								"name":      brand.HandoffToolName,
								"arguments": args,
							},
						},
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /threads/{id}/runs/{rid}/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []assistant.ToolOutput `json:"tool_outputs"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.ToolOutputs) != 1 || body.ToolOutputs[0].ToolCallID != "call_1" {
			t.Errorf("unexpected tool outputs: %+v", body.ToolOutputs)
		}
		submitted = true
		fmt.Fprint(w, `{"id":"run_1","status":"completed"}`)
	})
	mux.HandleFunc("GET /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, messageListJSON("Talebiniz ekibimize iletildi."))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	capture := &captureSink{}
	o := newTestOrchestrator(t, srv.URL, []handoff.Deliverer{capture}, nil)

	res, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "thread_tool", Message: "Arsa almak istiyorum",
	}, nil)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if !submitted {
		t.Fatal("tool outputs were never submitted")
	}
	if res.Handoff == nil || res.Handoff.Payload.Contact.Name != "Fatma Kaya" {
		t.Fatalf("expected tool-call handoff, got %+v", res.Handoff)
	}
	if capture.count() != 1 {
		t.Fatalf("expected one delivery, got %d", capture.count())
	}
}

func TestRunTurnPollRunFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"failed"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, nil, nil)
	_, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "t", Message: "m",
	}, nil)

	var failed *model.RunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected RunFailedError, got %v", err)
	}
	if failed.Status != "failed" {
		t.Fatalf("unexpected status %q", failed.Status)
	}
}

func TestRunTurnStreamRelaysDeltas(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"object":"thread.run","id":"run_1","status":"queued"}`,
			`{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"Merhaba, "}}]}}`,
			`{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"size nasıl yardımcı olabilirim?"}}]}}`,
			`{"object":"thread.run","id":"run_1","status":"completed"}`,
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := newTestOrchestrator(t, srv.URL, nil, nil)
	sink := &eventSink{}

	res, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "thread_s", Message: "Merhaba",
	}, sink)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if res.Text != "Merhaba, size nasıl yardımcı olabilirim?" {
		t.Fatalf("unexpected accumulated text %q", res.Text)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected 2 relayed frames, got %d", len(sink.events))
	}
	// Frames are relayed verbatim.
	var evt struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(sink.events[0], &evt); err != nil || evt.Object != "thread.message.delta" {
		t.Fatalf("relayed frame not verbatim: %s", sink.events[0])
	}
}

func TestRunTurnStreamToolCycle(t *testing.T) {
	// Tool arguments arrive split across deltas; id and name arrive once.
	firstStream := sseBody(
		`{"object":"thread.run","id":"run_1","status":"queued"}`,
		`{"object":"thread.run.step.delta","delta":{"step_details":{"type":"tool_calls","tool_calls":[{"index":0,"id":"call_9","type":"function","function":{"name":"submit_customer_request","arguments":"{\"contact\":{\"name\":\"Ali"}}]}}}`,
		`{"object":"thread.run.step.delta","delta":{"step_details":{"type":"tool_calls","tool_calls":[{"index":0,"function":{"arguments":" Vural\",\"phone\":\"05301234567\"},\"request\":{\"summary\":\"Ticari dükkan\"}}"}}]}}}`,
		`{"object":"thread.run","id":"run_1","status":"requires_action"}`,
	)
	secondStream := sseBody(
		`{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"Talebiniz iletildi."}}]}}`,
		`{"object":"thread.run","id":"run_1","status":"completed"}`,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, firstStream)
	})
	mux.HandleFunc("POST /threads/{id}/runs/{rid}/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ToolOutputs []assistant.ToolOutput `json:"tool_outputs"`
			Stream      bool                   `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("continuation must be requested in stream mode")
		}
		if len(body.ToolOutputs) != 1 || body.ToolOutputs[0].ToolCallID != "call_9" {
			t.Errorf("unexpected tool outputs: %+v", body.ToolOutputs)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, secondStream)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	capture := &captureSink{}
	o := newTestOrchestrator(t, srv.URL, []handoff.Deliverer{capture}, nil)
	sink := &eventSink{}

	res, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "thread_tc", Message: "Dükkan bakıyorum",
	}, sink)
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if res.Text != "Talebiniz iletildi." {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.Handoff == nil || res.Handoff.Payload.Contact.Name != "Ali Vural" {
		t.Fatalf("expected reassembled tool-call handoff, got %+v", res.Handoff)
	}
	if capture.count() != 1 {
		t.Fatalf("expected one delivery, got %d", capture.count())
	}
}

func TestRunTurnStreamClientGoneStillFinishes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"Kaydınız "}}]}}`,
			`{"object":"thread.message.delta","delta":{"content":[{"type":"text","text":{"value":"alındı."}}]}}`,
			`{"object":"thread.run","id":"run_1","status":"completed"}`,
		))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logs := &memLog{}
	o := newTestOrchestrator(t, srv.URL, nil, logs)
	sink := &eventSink{fail: true}

	res, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "thread_gone", Message: "merhaba",
	}, sink)
	if err != nil {
		t.Fatalf("RunTurn must finish after client disconnect: %v", err)
	}
	if res.Text != "Kaydınız alındı." {
		t.Fatalf("upstream must still be drained, got %q", res.Text)
	}
	if len(logs.byRole(model.RoleAssistant)) != 1 {
		t.Fatal("assistant turn must still be logged after disconnect")
	}
}

func TestRunTurnPollTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("POST /threads/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"queued"}`)
	})
	mux.HandleFunc("GET /threads/{id}/runs/{rid}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"run_1","status":"in_progress"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	brands, _ := brand.NewRegistry(testBrands)
	client := assistant.NewClient(srv.URL, "sk-test", testutil.TestLogger())
	pipeline := handoff.NewPipeline(handoff.NewMemoryDedup(), nil, testutil.TestLogger())
	o := New(client, brands, nil, pipeline, nil, testutil.TestLogger(), Options{
		PollInterval: time.Millisecond,
		PollTimeout:  20 * time.Millisecond,
	})

	_, err := o.RunTurn(context.Background(), TurnInput{
		BrandKey: "yilmaz", ThreadID: "t", Message: "m",
	}, nil)
	if !errors.Is(err, model.ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}
