package assistant

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// doneSentinel terminates the event stream. It is matched before JSON
// parsing: "[DONE]" is a literal marker, not an event.
const doneSentinel = "[DONE]"

// maxEventLine bounds a single SSE line. Upstream events are small; the limit
// only guards against a malfunctioning upstream streaming an unbounded line.
const maxEventLine = 1024 * 1024

// Scanner reads an SSE byte stream of newline-delimited "data: <json>"
// records and yields parsed events. Records split across arbitrary read
// boundaries are reassembled before parsing; blank lines and comment frames
// are ignored; payloads that fail to parse are skipped and counted rather
// than failing the stream.
type Scanner struct {
	s       *bufio.Scanner
	logger  *slog.Logger
	done    bool
	err     error
	skipped int
}

// NewScanner wraps an upstream SSE response body.
func NewScanner(r io.Reader, logger *slog.Logger) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &Scanner{s: s, logger: logger}
}

// Next returns the next parsed event. It returns (nil, false) when the
// stream ends, either by the [DONE] sentinel or by the reader draining.
func (sc *Scanner) Next() (*Event, bool) {
	if sc.done {
		return nil, false
	}
	for sc.s.Scan() {
		line := strings.TrimSpace(sc.s.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			// Blank separators, "event:" lines, and ": comment" keep-alives.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			sc.done = true
			return nil, false
		}

		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			// Best-effort: one unparsable event never fails the turn.
			sc.skipped++
			sc.logger.Debug("assistant: skipping malformed stream event", "error", err)
			continue
		}
		evt.Raw = json.RawMessage(payload)
		return &evt, true
	}
	sc.done = true
	sc.err = sc.s.Err()
	return nil, false
}

// Err returns the underlying read error, if the stream ended on one.
func (sc *Scanner) Err() error {
	return sc.err
}

// Skipped returns how many malformed payloads were dropped, for observability.
func (sc *Scanner) Skipped() int {
	return sc.skipped
}
