package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/relayloop/relayloop/core/actor"
)

// Step job statuses on the result wire and in the job record store.
const (
	StatusDispatched = "dispatched"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusTimeout    = "timeout"
)

// StepJob is the unit of work sent to the queue. The actor context lets the
// worker enforce the same authorization as the issuing request even though it
// runs in a different process.
type StepJob struct {
	JobID      string         `json:"job_id"`
	RunID      string         `json:"run_id"`
	PlanStepID string         `json:"plan_step_id"`
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args,omitempty"`
	Actor      actor.Context  `json:"actor_context"`
	Attempt    int            `json:"attempt"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// StepResult is the worker's reply, published on the shared result subject.
type StepResult struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ExecutionMs int64           `json:"execution_ms,omitempty"`
}

// JobID derives the job identifier deterministically from the run, the step
// and the dispatch attempt, so a retry of the same logical step is
// distinguishable from a genuinely new invocation without colliding with
// unrelated steps.
func JobID(runID, stepID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", runID, stepID, attempt)
}
