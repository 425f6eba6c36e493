package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/eekr1/emlak-ymh/internal/auth"
	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/retrieval"
	"github.com/eekr1/emlak-ymh/internal/storage"
)

// HandleAuthToken handles POST /auth/token. Exchanges the operator admin key
// for a short-lived JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AdminKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "admin_key is required")
		return
	}

	if h.adminKeyHash == "" {
		// No admin key configured. Burn comparable time so the disabled
		// state is not observable from response latency.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyKey(req.AdminKey, h.adminKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken()
	if err != nil {
		h.logger.Error("auth token: issue failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleListLeads handles GET /v1/leads. Supports brand_key, admin_status,
// limit and offset query parameters.
func (h *Handlers) HandleListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.LeadFilter{
		BrandKey:    q.Get("brand_key"),
		AdminStatus: q.Get("admin_status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid offset")
			return
		}
		filter.Offset = n
	}

	leads, err := h.store.ListLeads(r.Context(), filter)
	if err != nil {
		h.logger.Error("list leads", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list leads")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"leads": leads,
		"count": len(leads),
	})
}

// HandleUpdateLead handles PATCH /v1/leads/{id}. Partial update of
// admin_status and admin_notes.
func (h *Handlers) HandleUpdateLead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid lead id")
		return
	}

	var req model.UpdateLeadRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AdminStatus == nil && req.AdminNotes == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nothing to update")
		return
	}

	lead, err := h.store.UpdateLead(r.Context(), id, req.AdminStatus, req.AdminNotes)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "lead not found")
			return
		}
		h.logger.Error("update lead", "error", err, "lead_id", id)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to update lead")
		return
	}

	writeJSON(w, r, http.StatusOK, lead)
}

// HandleIngestKnowledge handles PUT /v1/knowledge/{brandKey}. Replaces the
// brand's knowledge base chunks: embeds each chunk, rewrites the Postgres
// rows and, when a vector index is configured, mirrors the points there.
func (h *Handlers) HandleIngestKnowledge(w http.ResponseWriter, r *http.Request) {
	brandKey := r.PathValue("brandKey")
	if h.brands.Get(brandKey) == nil {
		writeError(w, r, http.StatusForbidden, model.ErrCodeUnknownBrand, "brandKey not allowed")
		return
	}

	var req model.IngestChunksRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	texts := make([]string, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.Content == "" {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "chunk content must not be empty")
			return
		}
		texts[i] = c.Content
	}

	chunks := make([]storage.KnowledgeChunk, len(req.Chunks))
	var points []retrieval.Point

	if len(texts) > 0 {
		vecs, err := h.embedder.EmbedBatch(r.Context(), texts)
		if err != nil {
			h.logger.Error("ingest knowledge: embed", "error", err, "brand_key", brandKey)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "embedding failed")
			return
		}

		points = make([]retrieval.Point, len(req.Chunks))
		for i, c := range req.Chunks {
			id := uuid.New()
			chunks[i] = storage.KnowledgeChunk{
				ID:        id,
				BrandKey:  brandKey,
				Content:   c.Content,
				SourceRef: c.SourceRef,
				Embedding: vecs[i],
			}
			points[i] = retrieval.Point{
				ID:        id,
				BrandKey:  brandKey,
				Content:   c.Content,
				SourceRef: c.SourceRef,
				Embedding: vecs[i].Slice(),
			}
		}
	}

	if err := h.store.ReplaceChunks(r.Context(), brandKey, chunks); err != nil {
		h.logger.Error("ingest knowledge: store", "error", err, "brand_key", brandKey)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to store chunks")
		return
	}

	if h.vectors != nil {
		if err := h.vectors.DeleteBrand(r.Context(), brandKey); err != nil {
			h.logger.Error("ingest knowledge: vector delete", "error", err, "brand_key", brandKey)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to index chunks")
			return
		}
		if len(points) > 0 {
			if err := h.vectors.Upsert(r.Context(), points); err != nil {
				h.logger.Error("ingest knowledge: vector upsert", "error", err, "brand_key", brandKey)
				writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to index chunks")
				return
			}
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"brand_key": brandKey,
		"chunks":    len(chunks),
	})
}
