package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// LeadFilter narrows the lead listing. Zero values mean "no filter".
type LeadFilter struct {
	BrandKey    string
	AdminStatus string
	Limit       int
	Offset      int
}

// ListLeads returns assistant messages that carry a handoff, newest first.
func (db *DB) ListLeads(ctx context.Context, filter LeadFilter) ([]model.LeadMessage, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx, `
		SELECT m.id, COALESCE(c.brand_key, ''), c.thread_id,
		       COALESCE(m.text, ''), m.handoff_kind, m.handoff_payload,
		       COALESCE(m.admin_status, 'NEW'), COALESCE(m.admin_notes, ''),
		       m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.handoff_kind IS NOT NULL
		  AND ($1 = '' OR c.brand_key = $1)
		  AND ($2 = '' OR COALESCE(m.admin_status, 'NEW') = $2)
		ORDER BY m.created_at DESC
		LIMIT $3 OFFSET $4
	`, filter.BrandKey, filter.AdminStatus, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list leads: %w", err)
	}
	defer rows.Close()

	leads := make([]model.LeadMessage, 0, limit)
	for rows.Next() {
		var lead model.LeadMessage
		if err := rows.Scan(&lead.ID, &lead.BrandKey, &lead.ThreadID,
			&lead.Text, &lead.HandoffKind, &lead.HandoffPayload,
			&lead.AdminStatus, &lead.AdminNotes, &lead.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}

// UpdateLead sets the admin triage fields on a lead message. Nil fields are
// left unchanged. Returns ErrNotFound when the ID does not name a lead.
func (db *DB) UpdateLead(ctx context.Context, id int64, adminStatus, adminNotes *string) (model.LeadMessage, error) {
	var lead model.LeadMessage
	err := db.pool.QueryRow(ctx, `
		UPDATE messages m
		SET admin_status = COALESCE($2, m.admin_status),
		    admin_notes = COALESCE($3, m.admin_notes)
		FROM conversations c
		WHERE m.id = $1 AND m.handoff_kind IS NOT NULL AND c.id = m.conversation_id
		RETURNING m.id, COALESCE(c.brand_key, ''), c.thread_id,
		          COALESCE(m.text, ''), m.handoff_kind, m.handoff_payload,
		          COALESCE(m.admin_status, 'NEW'), COALESCE(m.admin_notes, ''),
		          m.created_at
	`, id, adminStatus, adminNotes).Scan(&lead.ID, &lead.BrandKey, &lead.ThreadID,
		&lead.Text, &lead.HandoffKind, &lead.HandoffPayload,
		&lead.AdminStatus, &lead.AdminNotes, &lead.CreatedAt)
	if err == pgx.ErrNoRows {
		return model.LeadMessage{}, ErrNotFound
	}
	if err != nil {
		return model.LeadMessage{}, fmt.Errorf("storage: update lead %d: %w", id, err)
	}
	return lead, nil
}

// RecordHandoffFingerprint stores a fingerprint for the thread. Returns true
// if the fingerprint was new, false if it was already present. The insert is
// the atomic check: concurrent writers race on the primary key and exactly
// one wins.
func (db *DB) RecordHandoffFingerprint(ctx context.Context, threadID, fingerprint string) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO handoff_fingerprints (thread_id, fingerprint)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, threadID, fingerprint)
	if err != nil {
		return false, fmt.Errorf("storage: record handoff fingerprint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
