package retrieval

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// ChunkStore is the slice of the storage layer the Postgres searcher needs.
type ChunkStore interface {
	SearchChunksByEmbedding(ctx context.Context, brandKey string, embedding pgvector.Vector, limit int) ([]Chunk, error)
}

// PostgresSearcher implements Searcher over pgvector. It is the fallback
// when no Qdrant URL is configured, so single-node installs need only
// Postgres.
type PostgresSearcher struct {
	store    ChunkStore
	embedder Provider
}

// NewPostgresSearcher creates a pgvector-backed searcher.
func NewPostgresSearcher(store ChunkStore, embedder Provider) *PostgresSearcher {
	return &PostgresSearcher{store: store, embedder: embedder}
}

// Search embeds the query and delegates to the chunk store.
func (s *PostgresSearcher) Search(ctx context.Context, brandKey, query string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 5
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	return s.store.SearchChunksByEmbedding(ctx, brandKey, vec, limit)
}
