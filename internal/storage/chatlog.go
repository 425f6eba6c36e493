package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// LogChatMessage records one conversation message. The conversation row is
// upserted by thread ID, then the message row is inserted, in a single
// transaction so a half-logged turn never appears.
//
// Visitor, session, and source attribution is written once per conversation:
// later turns keep the values from the first turn that carried them.
func (db *DB) LogChatMessage(ctx context.Context, entry model.ChatLogEntry) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin chat log tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var conversationID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (thread_id, brand_key, visitor_id, session_id, source, created_at, last_message_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), now(), now())
		ON CONFLICT (thread_id)
		DO UPDATE SET
			brand_key = EXCLUDED.brand_key,
			last_message_at = now(),
			visitor_id = COALESCE(conversations.visitor_id, EXCLUDED.visitor_id),
			session_id = COALESCE(conversations.session_id, EXCLUDED.session_id),
			source = COALESCE(conversations.source, EXCLUDED.source)
		RETURNING id
	`, entry.ThreadID, entry.BrandKey, entry.VisitorID, entry.SessionID, entry.Source).Scan(&conversationID)
	if err != nil {
		return fmt.Errorf("storage: upsert conversation: %w", err)
	}

	var (
		handoffKind    *string
		handoffPayload []byte
		txType, pType  *string
		location       *string
		budget         *string
	)
	if entry.Handoff != nil {
		handoffKind = &entry.Handoff.Kind
		handoffPayload, err = json.Marshal(entry.Handoff.Payload)
		if err != nil {
			return fmt.Errorf("storage: marshal handoff payload: %w", err)
		}
		// Property details are denormalized into their own columns so the
		// admin surface can filter leads without unpacking JSONB.
		if p := entry.Handoff.Payload.Property; p != nil {
			txType = nilIfEmpty(p.TransactionType)
			pType = nilIfEmpty(p.PropertyType)
			location = nilIfEmpty(p.Location)
			budget = nilIfEmpty(p.Budget)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO messages
			(conversation_id, role, text, raw_text, handoff_kind, handoff_payload, meta,
			 transaction_type, property_type, location, budget, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, now())
	`, conversationID, entry.Role, entry.Text, entry.RawText,
		handoffKind, handoffPayload, nilIfEmptyJSON(entry.Meta),
		txType, pType, location, budget); err != nil {
		return fmt.Errorf("storage: insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit chat log tx: %w", err)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
