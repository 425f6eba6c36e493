package model

import (
	"errors"
	"fmt"
)

// Turn failure taxonomy. Only these surface to the client as non-2xx
// responses or in-stream error events; everything else degrades to the
// best available partial result.
var (
	// ErrRunTimeout is returned when the polling budget is exhausted before
	// the run reached a terminal state.
	ErrRunTimeout = errors.New("run polling timeout")

	// ErrUnknownBrand is returned when a brand key is missing or not in the
	// configured registry. No upstream call is made for such requests.
	ErrUnknownBrand = errors.New("unknown brand key")
)

// UpstreamError reports a non-success HTTP status from the assistant run API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// RunFailedError reports a run that reached a failure terminal state
// (failed, cancelled, expired). Never retried automatically.
type RunFailedError struct {
	RunID  string
	Status string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s terminal status: %s", e.RunID, e.Status)
}
