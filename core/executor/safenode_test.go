package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/relayloop/relayloop/core/events"
)

func TestSafeNodePassesThroughSuccess(t *testing.T) {
	pub := &recordingPublisher{}
	node := Safe("classify", pub, func(_ context.Context, run *PlanRun) (string, error) {
		return "ok", nil
	})

	res := node(context.Background(), &PlanRun{ID: "run-1"})
	if res.Fallback() {
		t.Fatalf("expected success, got %+v", res.Err)
	}
	if res.Value != "ok" {
		t.Fatalf("unexpected value %q", res.Value)
	}
	if res.Route("next") != "next" {
		t.Fatalf("expected next edge, got %q", res.Route("next"))
	}
	if len(pub.events) != 0 {
		t.Fatalf("expected no events on success, got %d", len(pub.events))
	}
}

func TestSafeNodeContainsError(t *testing.T) {
	pub := &recordingPublisher{}
	run := &PlanRun{ID: "run-2"}
	node := Safe("plan", pub, func(_ context.Context, r *PlanRun) (int, error) {
		return 0, errors.New("planner exploded")
	})

	res := node(context.Background(), run)
	if !res.Fallback() {
		t.Fatal("expected fallback result")
	}
	if res.Route("next") != FallbackRoute {
		t.Fatalf("expected fallback edge, got %q", res.Route("next"))
	}
	if res.Err.Node != "plan" || res.Err.Message != "planner exploded" {
		t.Fatalf("unexpected node error %+v", res.Err)
	}

	failed := pub.byType(events.TypeStepFailed)
	if len(failed) != 1 {
		t.Fatalf("expected exactly one step_failed event, got %d", len(failed))
	}
	payload, ok := failed[0].Payload.(map[string]any)
	if !ok || payload["message"] != "planner exploded" || payload["node"] != "plan" {
		t.Fatalf("unexpected event payload %#v", failed[0].Payload)
	}
	if len(run.NodeErrors) != 1 || run.NodeErrors[0].Message != "planner exploded" {
		t.Fatalf("expected failure recorded on run state, got %+v", run.NodeErrors)
	}
}

func TestSafeNodeContainsPanic(t *testing.T) {
	pub := &recordingPublisher{}
	run := &PlanRun{ID: "run-3"}
	node := Safe("extract", pub, func(_ context.Context, r *PlanRun) (any, error) {
		panic("nil schema")
	})

	res := node(context.Background(), run)
	if !res.Fallback() {
		t.Fatal("expected fallback after panic")
	}
	if res.Err.Message != "nil schema" {
		t.Fatalf("unexpected message %q", res.Err.Message)
	}
	if res.Err.Stack == "" {
		t.Fatal("expected stack captured")
	}
	if len(pub.byType(events.TypeStepFailed)) != 1 {
		t.Fatal("expected exactly one step_failed event")
	}
}

func TestSafeNodeStateWithoutSink(t *testing.T) {
	node := Safe("transform", nil, func(_ context.Context, s map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	res := node(context.Background(), map[string]any{})
	if !res.Fallback() {
		t.Fatal("expected fallback")
	}
}
