package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/eekr1/emlak-ymh/internal/retrieval"
)

// KnowledgeChunk is one embedded document fragment as stored in Postgres.
type KnowledgeChunk struct {
	ID        uuid.UUID
	BrandKey  string
	Content   string
	SourceRef string
	Embedding pgvector.Vector
}

// ReplaceChunks swaps a brand's knowledge base in one transaction: every
// existing chunk for the brand is deleted, then the new set is inserted.
// Searches never observe a half-replaced knowledge base.
func (db *DB) ReplaceChunks(ctx context.Context, brandKey string, chunks []KnowledgeChunk) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin replace chunks tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE brand_key = $1`, brandKey,
	); err != nil {
		return fmt.Errorf("storage: delete chunks for %q: %w", brandKey, err)
	}

	for _, c := range chunks {
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO knowledge_chunks (id, brand_key, content, source_ref, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, id, brandKey, c.Content, c.SourceRef, c.Embedding); err != nil {
			return fmt.Errorf("storage: insert chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit replace chunks tx: %w", err)
	}

	db.logger.Info("storage: replaced knowledge chunks", "brand_key", brandKey, "count", len(chunks))
	return nil
}

// SearchChunksByEmbedding returns the chunks nearest to the embedding for
// the brand, by cosine distance. Satisfies retrieval.ChunkStore.
func (db *DB) SearchChunksByEmbedding(ctx context.Context, brandKey string, embedding pgvector.Vector, limit int) ([]retrieval.Chunk, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT content, source_ref, 1 - (embedding <=> $2) AS score
		FROM knowledge_chunks
		WHERE brand_key = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, brandKey, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: search chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]retrieval.Chunk, 0, limit)
	for rows.Next() {
		var c retrieval.Chunk
		if err := rows.Scan(&c.Content, &c.SourceRef, &c.Score); err != nil {
			return nil, fmt.Errorf("storage: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns how many chunks a brand has. Used by the ingestion
// endpoint's response.
func (db *DB) CountChunks(ctx context.Context, brandKey string) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT count(*) FROM knowledge_chunks WHERE brand_key = $1`, brandKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count chunks: %w", err)
	}
	return n, nil
}
