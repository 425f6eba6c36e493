package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/pgvector/pgvector-go"
)

func TestBuildContextNoChunks(t *testing.T) {
	instructions := "Sen bir emlak asistanısın."
	got := BuildContext(instructions, nil)
	if got != instructions {
		t.Fatalf("expected instructions unchanged, got %q", got)
	}
}

func TestBuildContextFoldsChunks(t *testing.T) {
	chunks := []Chunk{
		{Content: "Kadıköy ofisimiz hafta içi 09:00-18:00 açıktır.", Score: 0.91},
		{Content: "Satılık portföyde 3+1 daireler mevcut.", Score: 0.74},
	}
	got := BuildContext("base", chunks)

	if !strings.HasPrefix(got, "base") {
		t.Fatalf("instructions must come first, got %q", got[:20])
	}
	if !strings.Contains(got, "# KNOWLEDGE BASE CONTEXT") {
		t.Fatal("missing context header")
	}
	if !strings.Contains(got, "--- SOURCE START (Score: 0.91) ---") {
		t.Fatal("missing score tag for first chunk")
	}
	if !strings.Contains(got, "Kadıköy ofisimiz") || !strings.Contains(got, "Satılık portföyde") {
		t.Fatal("chunk content missing from context")
	}
	if strings.Index(got, "0.91") > strings.Index(got, "0.74") {
		t.Fatal("chunks must appear in given order")
	}
	if !strings.Contains(got, "knowledge base context above") {
		t.Fatal("missing directive to prefer context")
	}
}

type fakeChunkStore struct {
	gotBrand string
	gotLimit int
	chunks   []Chunk
}

func (f *fakeChunkStore) SearchChunksByEmbedding(_ context.Context, brandKey string, _ pgvector.Vector, limit int) ([]Chunk, error) {
	f.gotBrand = brandKey
	f.gotLimit = limit
	return f.chunks, nil
}

func TestPostgresSearcherDefaults(t *testing.T) {
	store := &fakeChunkStore{chunks: []Chunk{{Content: "c", Score: 0.5}}}
	s := NewPostgresSearcher(store, NewNoopProvider(4))

	chunks, err := s.Search(context.Background(), "yilmaz", "satılık daire", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if store.gotBrand != "yilmaz" {
		t.Fatalf("brand key not passed through, got %q", store.gotBrand)
	}
	if store.gotLimit != 5 {
		t.Fatalf("expected default limit 5, got %d", store.gotLimit)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
}
