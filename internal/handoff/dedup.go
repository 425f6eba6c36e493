package handoff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/eekr1/emlak-ymh/internal/model"
)

// Fingerprint computes a stable content hash of a sanitized payload.
// Case and surrounding whitespace do not change the fingerprint, so the same
// lead restated with different casing is still a duplicate.
func Fingerprint(p model.HandoffPayload) string {
	// Struct field order makes the JSON encoding deterministic. Turkish case
	// mapping keeps I/ı and İ/i pairs on the same fingerprint ("YILMAZ" and
	// "Yılmaz" must collide).
	b, _ := json.Marshal(p)
	normalized := strings.ToLowerSpecial(unicode.TurkishCase, strings.TrimSpace(string(b)))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// DedupStore gates repeat deliveries of the same payload per thread.
// Implementations must be safe for concurrent use by multiple turns.
type DedupStore interface {
	// Remember records the fingerprint for the thread and reports whether it
	// was newly recorded. A false return means the payload was already
	// delivered (or delivery was already attempted) for this thread.
	Remember(ctx context.Context, threadID, fingerprint string) bool
}

// MemoryDedup is the in-process DedupStore. Entries live for the process
// lifetime: there is no eviction and no persistence, so dedup guarantees are
// lost on restart and memory grows with thread cardinality. That retention
// policy matches the bounded key space (one entry per thread).
type MemoryDedup struct {
	mu      sync.Mutex
	threads map[string]map[string]struct{}
}

// NewMemoryDedup creates an empty in-memory dedup store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{threads: make(map[string]map[string]struct{})}
}

// Remember implements DedupStore with an atomic check-and-insert.
func (m *MemoryDedup) Remember(_ context.Context, threadID, fingerprint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen, ok := m.threads[threadID]
	if !ok {
		seen = make(map[string]struct{})
		m.threads[threadID] = seen
	}
	if _, dup := seen[fingerprint]; dup {
		return false
	}
	seen[fingerprint] = struct{}{}
	return true
}

// FingerprintStore is the persistence slice a PersistentDedup needs. The
// storage layer satisfies it.
type FingerprintStore interface {
	RecordHandoffFingerprint(ctx context.Context, threadID, fingerprint string) (bool, error)
}

// PersistentDedup backs the duplicate gate with a database so dedup survives
// restarts. An in-memory layer sits in front to spare the database a round
// trip on repeats within one process lifetime.
type PersistentDedup struct {
	store  FingerprintStore
	memory *MemoryDedup
	logger *slog.Logger
}

// NewPersistentDedup creates a database-backed dedup store.
func NewPersistentDedup(store FingerprintStore, logger *slog.Logger) *PersistentDedup {
	return &PersistentDedup{store: store, memory: NewMemoryDedup(), logger: logger}
}

// Remember implements DedupStore. The database insert is the atomic check.
// On a database error the gate fails open: delivering a lead twice is
// recoverable, dropping one is not.
func (p *PersistentDedup) Remember(ctx context.Context, threadID, fingerprint string) bool {
	if !p.memory.Remember(ctx, threadID, fingerprint) {
		return false
	}
	fresh, err := p.store.RecordHandoffFingerprint(ctx, threadID, fingerprint)
	if err != nil {
		p.logger.Error("handoff: fingerprint store unavailable, allowing delivery",
			"thread_id", threadID, "error", err)
		return true
	}
	return fresh
}
