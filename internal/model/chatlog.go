package model

import (
	"encoding/json"
	"time"
)

// Message roles stored in the chat log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatLogEntry is one logged conversation message. Logging is fire-and-forget
// from the orchestrator's perspective: a failed write never fails the turn.
type ChatLogEntry struct {
	BrandKey  string
	ThreadID  string
	Role      string
	Text      string   // cleaned text shown to the user
	RawText   string   // original assistant output including fenced blocks
	Handoff   *Handoff // non-nil only when a handoff was accepted this turn
	VisitorID string
	SessionID string
	Source    string
	Meta      json.RawMessage
}

// LeadMessage is an assistant message row that carries a handoff, as listed
// on the admin surface.
type LeadMessage struct {
	ID             int64           `json:"id"`
	BrandKey       string          `json:"brand_key"`
	ThreadID       string          `json:"thread_id"`
	Text           string          `json:"text"`
	HandoffKind    string          `json:"handoff_kind"`
	HandoffPayload json.RawMessage `json:"handoff_payload"`
	AdminStatus    string          `json:"admin_status"`
	AdminNotes     string          `json:"admin_notes"`
	CreatedAt      time.Time       `json:"created_at"`
}
