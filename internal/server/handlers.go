package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/eekr1/emlak-ymh/internal/auth"
	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/orchestrator"
	"github.com/eekr1/emlak-ymh/internal/retrieval"
	"github.com/eekr1/emlak-ymh/internal/storage"
)

// emptyReplyFallback is returned when a completed run produced no usable
// assistant text.
const emptyReplyFallback = "(Yanıt metni bulunamadı)"

// TurnRunner drives one conversation turn. The orchestrator satisfies it.
type TurnRunner interface {
	EnsureThread(ctx context.Context, brandKey, threadID string) (string, error)
	RunTurn(ctx context.Context, in orchestrator.TurnInput, sink orchestrator.DeltaSink) (orchestrator.TurnResult, error)
}

// AdminStore is the storage surface the HTTP layer needs. *storage.DB
// satisfies it.
type AdminStore interface {
	Ping(ctx context.Context) error
	ListLeads(ctx context.Context, filter storage.LeadFilter) ([]model.LeadMessage, error)
	UpdateLead(ctx context.Context, id int64, adminStatus, adminNotes *string) (model.LeadMessage, error)
	ReplaceChunks(ctx context.Context, brandKey string, chunks []storage.KnowledgeChunk) error
}

// VectorIndex mirrors the qdrant index operations used by knowledge
// ingestion and health reporting. Nil disables the vector path.
type VectorIndex interface {
	Upsert(ctx context.Context, points []retrieval.Point) error
	DeleteBrand(ctx context.Context, brandKey string) error
	Healthy(ctx context.Context) error
}

// BufferStats exposes chatlog buffer depth for the health endpoint.
type BufferStats interface {
	Len() int
	Dropped() int64
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	runner       TurnRunner
	brands       *brand.Registry
	store        AdminStore
	vectors      VectorIndex
	embedder     retrieval.Provider
	jwtMgr       *auth.JWTManager
	adminKeyHash string
	buffer       BufferStats
	logger       *slog.Logger
	startedAt    time.Time

	keepAlive   time.Duration
	turnTimeout time.Duration
	maxBody     int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Vectors, Buffer.
type HandlersDeps struct {
	Runner       TurnRunner
	Brands       *brand.Registry
	Store        AdminStore
	Vectors      VectorIndex
	Embedder     retrieval.Provider
	JWTMgr       *auth.JWTManager
	AdminKeyHash string
	Buffer       BufferStats
	Logger       *slog.Logger

	KeepAlive   time.Duration
	TurnTimeout time.Duration
	MaxBody     int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.KeepAlive <= 0 {
		d.KeepAlive = 20 * time.Second
	}
	if d.TurnTimeout <= 0 {
		d.TurnTimeout = 180 * time.Second
	}
	return &Handlers{
		runner:       d.Runner,
		brands:       d.Brands,
		store:        d.Store,
		vectors:      d.Vectors,
		embedder:     d.Embedder,
		jwtMgr:       d.JWTMgr,
		adminKeyHash: d.AdminKeyHash,
		buffer:       d.Buffer,
		logger:       d.Logger,
		startedAt:    time.Now(),
		keepAlive:    d.KeepAlive,
		turnTimeout:  d.TurnTimeout,
		maxBody:      d.MaxBody,
	}
}

// HandleChatInit handles POST /chat/init. Creates an upstream thread, tagged
// with the brand key when one is given.
func (h *Handlers) HandleChatInit(w http.ResponseWriter, r *http.Request) {
	var req model.InitRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	// brandKey is optional here, but when present it must be on the allow-list.
	if req.BrandKey != "" && h.brands.Get(req.BrandKey) == nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodeUnknownBrand, "brandKey not allowed")
		return
	}

	threadID, err := h.runner.EnsureThread(r.Context(), req.BrandKey, "")
	if err != nil {
		h.logger.Error("chat init: create thread", "error", err, "brand_key", req.BrandKey)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to create thread")
		return
	}

	writeRawJSON(w, http.StatusOK, model.InitResponse{ThreadID: threadID, BrandKey: req.BrandKey})
}

// validateChatRequest applies the shared input rules for /chat/message and
// /chat/stream. It writes the error response itself and reports whether the
// request may proceed.
func (h *Handlers) validateChatRequest(w http.ResponseWriter, r *http.Request, req model.ChatRequest) bool {
	if req.ThreadID == "" || req.Message == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "threadId and message are required")
		return false
	}
	if len(req.Message) > model.MaxMessageLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "message too long")
		return false
	}
	if h.brands.Get(req.BrandKey) == nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodeUnknownBrand, "brandKey not allowed or missing")
		return false
	}
	return true
}

// HandleChatMessage handles POST /chat/message: a synchronous turn driven by
// run status polling.
func (h *Handlers) HandleChatMessage(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !h.validateChatRequest(w, r, req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.turnTimeout)
	defer cancel()

	result, err := h.runner.RunTurn(ctx, turnInput(req), nil)
	if err != nil {
		h.logger.Error("chat message: turn failed",
			"error", err, "brand_key", req.BrandKey, "thread_id", req.ThreadID,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "message failed")
		return
	}

	text := result.Text
	if text == "" {
		text = emptyReplyFallback
	}
	var ref *model.HandoffRef
	if result.Handoff != nil {
		ref = &model.HandoffRef{Kind: result.Handoff.Kind}
	}
	writeRawJSON(w, http.StatusOK, model.ChatResponse{
		Status:   "ok",
		ThreadID: result.ThreadID,
		Message:  text,
		Handoff:  ref,
	})
}

// HandleChatStream handles POST /chat/stream: the SSE relay. Upstream text
// delta events are forwarded verbatim as they arrive; the response always
// terminates with a [DONE] sentinel once the turn is over.
func (h *Handlers) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !h.validateChatRequest(w, r, req) {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, slow runs are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	sink := newSSEWriter(w, flusher)

	stopKA := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stopKA:
				return
			case <-ticker.C:
				sink.comment("keep-alive")
			}
		}
	}()

	// The turn must run to its natural end even when the client goes away:
	// the transcript log and any handoff extraction depend on the full
	// assistant output. The write side goes quiet, the upstream drive does not.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.turnTimeout)
	defer cancel()

	_, err := h.runner.RunTurn(ctx, turnInput(req), sink)

	close(stopKA)

	if err != nil {
		h.logger.Error("chat stream: turn failed",
			"error", err, "brand_key", req.BrandKey, "thread_id", req.ThreadID,
			"request_id", RequestIDFromContext(r.Context()))
		sink.event(`{"error":"stream_failed"}`)
	}
	sink.done()
}

// turnInput maps the wire request onto the orchestrator input.
func turnInput(req model.ChatRequest) orchestrator.TurnInput {
	return orchestrator.TurnInput{
		BrandKey:  req.BrandKey,
		ThreadID:  req.ThreadID,
		Message:   req.Message,
		VisitorID: req.VisitorID,
		SessionID: req.SessionID,
		Source:    req.Source,
		Meta:      req.Meta,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	pgStatus := "connected"
	if err := h.store.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":         status,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"postgres":       pgStatus,
	}

	if h.buffer != nil {
		body["chatlog"] = map[string]any{
			"depth":   h.buffer.Len(),
			"dropped": h.buffer.Dropped(),
		}
	}

	if h.vectors != nil {
		qdrantStatus := "connected"
		if err := h.vectors.Healthy(r.Context()); err != nil {
			// Retrieval is a degradation, not an outage: turns still run
			// without augmented context.
			qdrantStatus = "disconnected"
			if status == "healthy" {
				body["status"] = "degraded"
			}
		}
		body["qdrant"] = qdrantStatus
	}

	writeRawJSON(w, httpStatus, body)
}
