package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// Client talks to the hosted assistant run API (Assistants v2 wire format).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an upstream API client. Synchronous calls share one
// *http.Client with a request timeout; streaming calls use a second client
// without one, since an SSE response legitimately outlives any fixed timeout.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// CreateThread creates a new conversation thread, tagging it with the brand
// key when one is supplied.
func (c *Client) CreateThread(ctx context.Context, brandKey string) (string, error) {
	body := map[string]any{}
	if brandKey != "" {
		body["metadata"] = map[string]string{"brandKey": brandKey}
	}
	var thread struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/threads", body, &thread); err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	return thread.ID, nil
}

// AppendMessage appends a user message to a thread. The append must complete
// before the turn's run is created.
func (c *Client) AppendMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]string{"role": role, "content": content}
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/messages", body, nil); err != nil {
		return fmt.Errorf("assistant: append message: %w", err)
	}
	return nil
}

// RunParams configures run creation.
type RunParams struct {
	AssistantID  string
	Instructions string
	Tools        []Tool
	Metadata     map[string]string
}

// Run is the upstream run resource, as returned by the synchronous endpoints.
type Run struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	ThreadID       string          `json:"thread_id"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
}

// RequiredAction lists the tool calls blocking a requires_action run.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs holds the pending calls of a requires_action run.
type SubmitToolOutputs struct {
	ToolCalls []RequiredToolCall `json:"tool_calls"`
}

// RequiredToolCall is one pending call as reported by run polling.
type RequiredToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// CreateRun starts a run and returns the created resource.
func (c *Client) CreateRun(ctx context.Context, threadID string, params RunParams) (Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodPost, "/threads/"+url.PathEscape(threadID)+"/runs", runBody(params, false), &run); err != nil {
		return Run{}, fmt.Errorf("assistant: create run: %w", err)
	}
	return run, nil
}

// StreamRun starts a run in streaming mode and returns the raw SSE body.
// The caller owns the ReadCloser and must drain it to the stream's natural
// end even if the downstream client goes away.
func (c *Client) StreamRun(ctx context.Context, threadID string, params RunParams) (io.ReadCloser, error) {
	body, err := c.doStream(ctx, "/threads/"+url.PathEscape(threadID)+"/runs", runBody(params, true))
	if err != nil {
		return nil, fmt.Errorf("assistant: stream run: %w", err)
	}
	return body, nil
}

// GetRun fetches the current run status.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return Run{}, fmt.Errorf("assistant: get run: %w", err)
	}
	return run, nil
}

// ToolOutput is one resolved tool call to submit back to a blocked run.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// SubmitToolOutputsSync submits resolved tool outputs and returns the updated run.
func (c *Client) SubmitToolOutputsSync(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	var run Run
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/submit_tool_outputs"
	body := map[string]any{"tool_outputs": outputs}
	if err := c.do(ctx, http.MethodPost, path, body, &run); err != nil {
		return Run{}, fmt.Errorf("assistant: submit tool outputs: %w", err)
	}
	return run, nil
}

// SubmitToolOutputsStream submits resolved tool outputs in streaming mode and
// returns the continuation SSE body.
func (c *Client) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []ToolOutput) (io.ReadCloser, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/runs/" + url.PathEscape(runID) + "/submit_tool_outputs"
	body := map[string]any{"tool_outputs": outputs, "stream": true}
	rc, err := c.doStream(ctx, path, body)
	if err != nil {
		return nil, fmt.Errorf("assistant: submit tool outputs stream: %w", err)
	}
	return rc, nil
}

// Message is one thread message as returned by ListMessages.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content []struct {
		Type string     `json:"type"`
		Text *TextValue `json:"text,omitempty"`
	} `json:"content"`
}

// Text joins the message's text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Type == "text" && part.Text != nil {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text.Value)
		}
	}
	return b.String()
}

// ListMessages returns the newest messages of a thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	var resp struct {
		Data []Message `json:"data"`
	}
	path := "/threads/" + url.PathEscape(threadID) + "/messages?order=desc&limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("assistant: list messages: %w", err)
	}
	return resp.Data, nil
}

// LatestAssistantText returns the text of the newest assistant message in
// msgs (which are ordered newest first), or "".
func LatestAssistantText(msgs []Message) string {
	for _, m := range msgs {
		if m.Role == "assistant" {
			return strings.TrimSpace(m.Text())
		}
	}
	return ""
}

func runBody(params RunParams, stream bool) map[string]any {
	body := map[string]any{
		"assistant_id": params.AssistantID,
		"instructions": params.Instructions,
	}
	if len(params.Tools) > 0 {
		body["tools"] = params.Tools
	}
	if len(params.Metadata) > 0 {
		body["metadata"] = params.Metadata
	}
	if stream {
		body["stream"] = true
	}
	return body
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return upstreamError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// doStream issues a POST expecting an SSE response and hands the body to the
// caller. No client timeout: the stream ends when the upstream closes it or
// ctx is cancelled.
func (c *Client) doStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := upstreamError(resp)
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "assistants=v2")
}

func upstreamError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	return &model.UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
