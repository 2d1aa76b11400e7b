package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueUnavailable is returned immediately when no queue bus is
	// configured; the dispatch performs no network call.
	ErrQueueUnavailable = errors.New("step queue unavailable")

	// ErrStepTimeout is returned when a dispatched job does not signal
	// completion inside the wait window. The underlying job may still
	// complete out-of-band; its late result is discarded.
	ErrStepTimeout = errors.New("step dispatch timed out")
)

// ToolError carries a tool's own failure payload back to the orchestrator.
type ToolError struct {
	Tool    string
	JobID   string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
