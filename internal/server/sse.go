package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseWriter serializes SSE frame writes from the relay path and the
// keep-alive ticker. The first write failure is sticky: the client is gone
// and every later write becomes a no-op error.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	err     error
}

func newSSEWriter(w http.ResponseWriter, flusher http.Flusher) *sseWriter {
	return &sseWriter{w: w, flusher: flusher}
}

// OnEvent forwards one upstream event frame verbatim. Satisfies
// orchestrator.DeltaSink.
func (s *sseWriter) OnEvent(raw json.RawMessage) error {
	return s.write("data: " + string(raw) + "\n\n")
}

// event writes a server-generated data frame.
func (s *sseWriter) event(payload string) {
	_ = s.write("data: " + payload + "\n\n")
}

// comment writes an SSE comment frame. Keeps intermediaries from closing
// the connection during long runs.
func (s *sseWriter) comment(text string) {
	_ = s.write(": " + text + "\n\n")
}

// done writes the end-of-stream sentinel.
func (s *sseWriter) done() {
	_ = s.write("data: [DONE]\n\n")
}

func (s *sseWriter) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.err = err
		return err
	}
	s.flusher.Flush()
	return nil
}
