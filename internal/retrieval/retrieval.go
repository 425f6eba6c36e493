// Package retrieval provides semantic search over per-brand knowledge
// chunks and folds the results into assistant instructions.
//
// The primary index is Qdrant; a Postgres/pgvector searcher is available
// as a fallback when no Qdrant URL is configured. Retrieval failures are
// deliberately non-fatal for chat turns: a turn without context is
// degraded, a turn that errors out is broken.
package retrieval

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is a single retrieved knowledge fragment.
type Chunk struct {
	Content   string
	Score     float32
	SourceRef string
}

// Searcher finds knowledge chunks relevant to a query, scoped to a brand.
type Searcher interface {
	Search(ctx context.Context, brandKey, query string, limit int) ([]Chunk, error)
}

// contextHeader and contextDirective frame retrieved chunks so the
// assistant prefers them over its general knowledge.
const (
	contextHeader    = "# KNOWLEDGE BASE CONTEXT"
	contextDirective = "Answer using the knowledge base context above whenever it is relevant. " +
		"If the context does not cover the question, say so instead of guessing."
)

// BuildContext appends retrieved chunks to base instructions. Each chunk is
// wrapped in SOURCE markers carrying its similarity score so the assistant
// can weigh fragments. With no chunks the instructions pass through unchanged.
func BuildContext(instructions string, chunks []Chunk) string {
	if len(chunks) == 0 {
		return instructions
	}

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	b.WriteString(contextHeader)
	b.WriteString("\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "\n--- SOURCE START (Score: %.2f) ---\n", c.Score)
		b.WriteString(strings.TrimSpace(c.Content))
		b.WriteString("\n--- SOURCE END ---\n")
	}
	b.WriteString("\n")
	b.WriteString(contextDirective)
	return b.String()
}
