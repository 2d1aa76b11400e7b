package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/infra/config"
)

// stubBus routes published messages to in-process subscribers, standing in
// for NATS.
type stubBus struct {
	mu             sync.Mutex
	handlers       map[string]func([]byte) error
	published      []string
	failSubscribes int
}

func newStubBus() *stubBus {
	return &stubBus{handlers: make(map[string]func([]byte) error)}
}

func (b *stubBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	handler := b.handlers[subject]
	b.published = append(b.published, subject)
	b.mu.Unlock()
	if handler != nil {
		return handler(data)
	}
	return nil
}

func (b *stubBus) Subscribe(subject, queue string, handler func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribes > 0 {
		b.failSubscribes--
		return errors.New("connection refused")
	}
	b.handlers[subject] = handler
	return nil
}

// wireEchoWorker makes the stub bus behave like a worker answering every echo
// job, optionally failing the first n attempts.
func wireEchoWorker(b *stubBus, failFirst int) {
	var mu sync.Mutex
	attempts := 0
	b.handlers[bus.StepSubject("echo")] = func(data []byte) error {
		var job StepJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		mu.Lock()
		attempts++
		fail := attempts <= failFirst
		mu.Unlock()
		res := StepResult{JobID: job.JobID, Status: StatusSucceeded}
		if fail {
			res = StepResult{JobID: job.JobID, Status: StatusFailed, Error: "transient"}
		} else {
			out, _ := json.Marshal(map[string]any{"echo": job.Args["msg"]})
			res.Output = out
		}
		payload, _ := json.Marshal(res)
		resultHandler := b.handlers[bus.SubjectStepResult]
		if resultHandler == nil {
			return fmt.Errorf("no result subscription")
		}
		return resultHandler(payload)
	}
}

func fastTimeouts(waitSec int64, attempts int) *config.TimeoutsConfig {
	cfg, _ := config.ParseTimeouts(nil)
	cfg.Defaults.WaitTimeoutSeconds = waitSec
	cfg.Defaults.MaxAttempts = attempts
	cfg.Defaults.InitialBackoffMs = 1
	return cfg
}

func TestDispatchNoQueueConfigured(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.Dispatch(context.Background(), Request{RunID: "r", StepID: "s", Tool: "echo"})
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable, got %v", err)
	}
}

func TestDispatchRetriesFailedSubscription(t *testing.T) {
	b := newStubBus()
	b.failSubscribes = 1
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(5, 1)))

	req := Request{RunID: "run-1", StepID: "step-1", Tool: "echo", Args: map[string]any{"msg": "hi"}}
	_, err := d.Dispatch(context.Background(), req)
	if !errors.Is(err, ErrQueueUnavailable) {
		t.Fatalf("expected ErrQueueUnavailable while bus is down, got %v", err)
	}

	// The bus recovers; the next dispatch must re-attempt the subscription
	// instead of staying degraded.
	wireEchoWorker(b, 0)
	res, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("dispatch after recovery: %v", err)
	}
	if res.JobID != JobID("run-1", "step-1", 1) {
		t.Fatalf("unexpected job id %q", res.JobID)
	}
}

func TestDispatchRoundTrip(t *testing.T) {
	b := newStubBus()
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(5, 2)))
	if err := d.ensureResultSubscription(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	wireEchoWorker(b, 0)

	res, err := d.Dispatch(context.Background(), Request{
		RunID:  "run-1",
		StepID: "step-1",
		Tool:   "echo",
		Args:   map[string]any{"msg": "hi"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.JobID != JobID("run-1", "step-1", 1) {
		t.Fatalf("unexpected job id %q", res.JobID)
	}
	out, ok := res.Output.(map[string]any)
	if !ok || out["echo"] != "hi" {
		t.Fatalf("unexpected output %#v", res.Output)
	}
}

func TestDispatchRetriesFailedAttempt(t *testing.T) {
	b := newStubBus()
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(5, 2)))
	wireEchoWorker(b, 1)

	res, err := d.Dispatch(context.Background(), Request{RunID: "run-2", StepID: "s", Tool: "echo", Args: map[string]any{"msg": "x"}})
	if err != nil {
		t.Fatalf("dispatch after retry: %v", err)
	}
	if res.JobID != JobID("run-2", "s", 2) {
		t.Fatalf("expected second attempt job id, got %q", res.JobID)
	}
}

func TestDispatchToolFailureExhaustsAttempts(t *testing.T) {
	b := newStubBus()
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(5, 2)))
	wireEchoWorker(b, 99)

	_, err := d.Dispatch(context.Background(), Request{RunID: "run-3", StepID: "s", Tool: "echo"})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected ToolError, got %v", err)
	}
	if toolErr.Message != "transient" {
		t.Fatalf("expected tool error payload intact, got %q", toolErr.Message)
	}
}

func TestDispatchTimeout(t *testing.T) {
	b := newStubBus()
	// No worker wired: the job is published and never answered.
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(1, 2)))

	_, err := d.Dispatch(context.Background(), Request{RunID: "run-4", StepID: "slow", Tool: "echo"})
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("expected ErrStepTimeout, got %v", err)
	}
	// A timeout is terminal: the attempt loop must not redispatch.
	count := 0
	for _, s := range b.published {
		if s == bus.StepSubject("echo") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single publish before timeout, got %d", count)
	}
	if !strings.Contains(err.Error(), JobID("run-4", "slow", 1)) {
		t.Fatalf("expected job id in timeout error, got %v", err)
	}
}

func TestDispatchPrefersAmbientActor(t *testing.T) {
	b := newStubBus()
	d := NewDispatcher(b, WithTimeouts(fastTimeouts(5, 1)))

	var captured StepJob
	b.handlers[bus.StepSubject("echo")] = func(data []byte) error {
		if err := json.Unmarshal(data, &captured); err != nil {
			return err
		}
		res, _ := json.Marshal(StepResult{JobID: captured.JobID, Status: StatusSucceeded})
		return b.handlers[bus.SubjectStepResult](res)
	}

	ambient := actor.Context{Subject: "user-ambient", UserID: 7, Scopes: []string{"email:send"}, Timezone: "UTC"}
	ctx := actor.WithContext(context.Background(), ambient)
	_, err := d.Dispatch(ctx, Request{
		RunID: "run-5", StepID: "s", Tool: "echo",
		Actor: actor.Context{Subject: "stale-cached"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if captured.Actor.Subject != "user-ambient" || captured.Actor.UserID != 7 {
		t.Fatalf("expected ambient actor propagated, got %+v", captured.Actor)
	}
}
