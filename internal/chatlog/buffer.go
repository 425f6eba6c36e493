// Package chatlog provides fire-and-forget transcript logging with buffered
// background writes. A turn never waits on, or fails because of, the log.
package chatlog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/telemetry"
)

// maxBufferCapacity is the hard upper limit on buffered entries to prevent
// OOM. Past this, new entries are dropped rather than blocking a turn.
const maxBufferCapacity = 10_000

// Writer persists chat log entries. The storage layer satisfies it; tests
// use in-memory fakes.
type Writer interface {
	LogChatMessage(ctx context.Context, entry model.ChatLogEntry) error
}

// Buffer accumulates entries in memory and flushes them to the writer when
// either the batch size or flush timeout is reached.
type Buffer struct {
	writer       Writer
	logger       *slog.Logger
	maxSize      int
	flushTimeout time.Duration

	mu      sync.Mutex
	entries []model.ChatLogEntry

	dropped atomic.Int64 // total entries dropped due to capacity

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context // set by Drain so the final flush respects the caller's deadline
}

// NewBuffer creates a chat log buffer.
func NewBuffer(writer Writer, logger *slog.Logger, maxSize int, flushTimeout time.Duration) *Buffer {
	if maxSize <= 0 {
		maxSize = 32
	}
	if flushTimeout <= 0 {
		flushTimeout = 2 * time.Second
	}
	return &Buffer{
		writer:       writer,
		logger:       logger,
		maxSize:      maxSize,
		flushTimeout: flushTimeout,
		flushCh:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start begins the background flush loop and registers metrics. Call Drain to stop.
func (b *Buffer) Start(ctx context.Context) {
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.flushLoop(loopCtx)
}

// Log enqueues an entry. It never blocks and never returns an error: when
// the buffer is at capacity the entry is dropped and counted.
func (b *Buffer) Log(entry model.ChatLogEntry) {
	b.mu.Lock()
	if len(b.entries) >= maxBufferCapacity {
		b.mu.Unlock()
		b.dropped.Add(1)
		b.logger.Error("chatlog: buffer at capacity, dropping entry",
			"thread_id", entry.ThreadID, "role", entry.Role)
		return
	}
	b.entries = append(b.entries, entry)
	full := len(b.entries) >= b.maxSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
}

func (b *Buffer) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(b.flushTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush using the drain context provided by Drain().
			// We need a non-cancelled context because ctx is already done.
			if b.drainCtx != nil {
				b.flush(b.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.flush(fallbackCtx)
				cancel()
			}
			close(b.done)
			return
		case <-ticker.C:
			b.flush(ctx)
		case <-b.flushCh:
			b.flush(ctx)
		}
	}
}

// flush writes the batch one entry at a time so conversation rows stay in
// message order. Entries that fail are dropped with a log line: a transcript
// gap is preferable to the buffer wedging on one poisoned entry.
func (b *Buffer) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	start := time.Now()
	failed := 0
	for _, entry := range batch {
		if err := b.writer.LogChatMessage(ctx, entry); err != nil {
			failed++
			b.dropped.Add(1)
			b.logger.Error("chatlog: write failed, entry dropped",
				"thread_id", entry.ThreadID, "role", entry.Role, "error", err)
		}
	}

	b.logger.Debug("chatlog: batch flushed",
		"batch_size", len(batch),
		"failed", failed,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain signals the background flush loop to stop, waits for its final
// flush, and returns. ctx bounds the wait and the final flush.
func (b *Buffer) Drain(ctx context.Context) {
	b.drainCtx = ctx
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("chatlog: drain timed out waiting for flush loop")
	}
}

func (b *Buffer) registerMetrics() {
	meter := telemetry.Meter("emlak/chatlog")

	_, _ = meter.Int64ObservableGauge("emlak.chatlog.depth",
		metric.WithDescription("Current number of entries in the chat log buffer"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(b.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("emlak.chatlog.dropped_total",
		metric.WithDescription("Total chat log entries dropped"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(b.Dropped())
			return nil
		}),
	)
}

// Len returns the current number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns the total number of entries lost to capacity limits or
// write failures. A non-zero value indicates transcript gaps.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}
