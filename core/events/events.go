// Package events provides the per-run publish/subscribe channel used to
// announce step lifecycle transitions to any listener (UI, audit log).
// Delivery is at-least-once to whoever is subscribed at publish time; there is
// no durable replay log for events missed while unsubscribed.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published during a run.
const (
	TypeToolCalled    = "tool.called"
	TypeToolSucceeded = "tool.succeeded"
	TypeToolFailed    = "tool.failed"
	TypeStepFailed    = "step_failed"
	TypeAwaitingInput = "awaiting_input"
	TypeRunCompleted  = "run_completed"
	TypeRunFailed     = "run_failed"
)

// Event is a published notification of a run/step lifecycle transition.
// Events are published once and never mutated.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps a run event with an id and publish time.
func New(runID, eventType string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Channel returns the pub/sub channel name for a run.
func Channel(runID string) string {
	return "run:" + runID
}

// Publisher publishes run events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Hub is a per-run pub/sub channel. Subscribe returns a receive channel and a
// cancel function that releases the subscription.
type Hub interface {
	Publisher
	Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error)
}
