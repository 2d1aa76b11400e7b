package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/dispatch"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/tool"
)

type stubBus struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte) error
	published map[string][][]byte
}

func newStubBus() *stubBus {
	return &stubBus{
		handlers:  make(map[string]func([]byte) error),
		published: make(map[string][][]byte),
	}
}

func (b *stubBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	b.published[subject] = append(b.published[subject], data)
	b.mu.Unlock()
	return nil
}

func (b *stubBus) Subscribe(subject, queue string, handler func([]byte) error) error {
	b.mu.Lock()
	b.handlers[subject] = handler
	b.mu.Unlock()
	return nil
}

func (b *stubBus) deliver(t *testing.T, subject string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b.mu.Lock()
	handler := b.handlers[subject]
	b.mu.Unlock()
	if handler == nil {
		t.Fatalf("no handler for %s", subject)
	}
	if err := handler(data); err != nil {
		t.Fatalf("handler: %v", err)
	}
}

func (b *stubBus) results(t *testing.T) []dispatch.StepResult {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []dispatch.StepResult
	for _, data := range b.published[bus.SubjectStepResult] {
		var res dispatch.StepResult
		if err := json.Unmarshal(data, &res); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		out = append(out, res)
	}
	return out
}

func newTestWorker(b *stubBus, tools *tool.Registry) *Worker {
	return New(Config{WorkerID: "w-test"}, b, tools)
}

func echoRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	err := reg.Register(&tool.Tool{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any, _ actor.Context) (any, error) {
			return map[string]any{"echo": args["msg"]}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestWorkerExecutesJobAndPublishesResult(t *testing.T) {
	b := newStubBus()
	w := newTestWorker(b, echoRegistry(t))
	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.deliver(t, bus.StepJobPrefix+">", dispatch.StepJob{
		JobID: "run-1:s:1",
		Tool:  "echo",
		Args:  map[string]any{"msg": "hi"},
	})

	results := b.results(t)
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	res := results[0]
	if res.JobID != "run-1:s:1" || res.Status != dispatch.StatusSucceeded {
		t.Fatalf("unexpected result %+v", res)
	}
	var out map[string]any
	if err := json.Unmarshal(res.Output, &out); err != nil || out["echo"] != "hi" {
		t.Fatalf("unexpected output %s (%v)", res.Output, err)
	}
	if w.ActiveJobs() != 0 {
		t.Fatalf("expected active jobs drained, got %d", w.ActiveJobs())
	}
}

func TestWorkerReportsToolFailure(t *testing.T) {
	reg := tool.NewRegistry()
	_ = reg.Register(&tool.Tool{
		Name: "flaky",
		Handler: func(_ context.Context, _ map[string]any, _ actor.Context) (any, error) {
			return nil, errors.New("upstream 503")
		},
	})
	b := newStubBus()
	w := newTestWorker(b, reg)
	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.deliver(t, bus.StepJobPrefix+">", dispatch.StepJob{JobID: "run-2:s:1", Tool: "flaky"})

	results := b.results(t)
	if len(results) != 1 || results[0].Status != dispatch.StatusFailed {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].Error != "upstream 503" {
		t.Fatalf("expected tool error intact, got %q", results[0].Error)
	}
}

func TestWorkerReportsUnknownTool(t *testing.T) {
	b := newStubBus()
	w := newTestWorker(b, tool.NewRegistry())
	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.deliver(t, bus.StepJobPrefix+">", dispatch.StepJob{JobID: "run-3:s:1", Tool: "nope"})

	results := b.results(t)
	if len(results) != 1 || results[0].Status != dispatch.StatusFailed {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestWorkerIgnoresMalformedJob(t *testing.T) {
	b := newStubBus()
	w := newTestWorker(b, echoRegistry(t))
	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	handler := b.handlers[bus.StepJobPrefix+">"]
	if err := handler([]byte("{not json")); err != nil {
		t.Fatalf("expected malformed payload dropped, got %v", err)
	}
	if len(b.results(t)) != 0 {
		t.Fatal("expected no result for malformed job")
	}
}

func TestWorkerValidatesArgsAgainstSchema(t *testing.T) {
	reg := tool.NewRegistry()
	_ = reg.Register(&tool.Tool{
		Name: "email.send",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"to"},
		},
		Handler: func(_ context.Context, _ map[string]any, _ actor.Context) (any, error) {
			return map[string]any{}, nil
		},
	})
	b := newStubBus()
	w := newTestWorker(b, reg)
	if err := w.Subscribe(); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.deliver(t, bus.StepJobPrefix+">", dispatch.StepJob{
		JobID: "run-4:s:1",
		Tool:  "email.send",
		Args:  map[string]any{"subject": "missing recipient"},
	})

	results := b.results(t)
	if len(results) != 1 || results[0].Status != dispatch.StatusFailed {
		t.Fatalf("expected validation failure, got %+v", results)
	}
}
