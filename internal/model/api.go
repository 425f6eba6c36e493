// Package model defines the API types shared across the HTTP layer,
// the run orchestrator, and the storage layer.
package model

import (
	"encoding/json"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnknownBrand  = "UNKNOWN_BRAND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// MaxMessageLen bounds the user message so a single request cannot push an
// arbitrarily large prompt into the upstream run or the messages table.
const MaxMessageLen = 8 * 1024

// ChatRequest is the request body for POST /chat/message and POST /chat/stream.
type ChatRequest struct {
	ThreadID  string          `json:"threadId"`
	Message   string          `json:"message"`
	BrandKey  string          `json:"brandKey"`
	VisitorID string          `json:"visitorId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Source    string          `json:"source,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// ChatResponse is the response body for POST /chat/message.
type ChatResponse struct {
	Status   string      `json:"status"`
	ThreadID string      `json:"threadId"`
	Message  string      `json:"message"`
	Handoff  *HandoffRef `json:"handoff"`
}

// HandoffRef is the client-visible summary of an accepted handoff.
// Payload contents never leave the server.
type HandoffRef struct {
	Kind string `json:"kind"`
}

// InitRequest is the request body for POST /chat/init.
type InitRequest struct {
	BrandKey string `json:"brandKey,omitempty"`
}

// InitResponse is the response body for POST /chat/init.
type InitResponse struct {
	ThreadID string `json:"threadId"`
	BrandKey string `json:"brandKey,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	AdminKey string `json:"admin_key"`
}

// AuthTokenResponse is the response body for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UpdateLeadRequest is the request body for PATCH /v1/leads/{id}.
type UpdateLeadRequest struct {
	AdminStatus *string `json:"admin_status,omitempty"`
	AdminNotes  *string `json:"admin_notes,omitempty"`
}

// IngestChunksRequest is the request body for PUT /v1/knowledge/{brandKey}.
type IngestChunksRequest struct {
	Chunks []IngestChunk `json:"chunks"`
}

// IngestChunk is one knowledge-base document fragment to index.
type IngestChunk struct {
	Content   string `json:"content"`
	SourceRef string `json:"source_ref,omitempty"`
}
