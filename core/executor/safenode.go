package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/relayloop/relayloop/core/events"
	"github.com/relayloop/relayloop/core/infra/logging"
)

// FallbackRoute is the graph edge a router takes when a node's boundary
// contained a failure.
const FallbackRoute = "fallback"

// NodeResult is the tagged outcome of a boundary-wrapped node: either the
// node's value or the failure that was contained.
type NodeResult[T any] struct {
	Value T
	Err   *NodeError
}

// Fallback reports whether the node failed and the graph should take the
// fallback edge.
func (r NodeResult[T]) Fallback() bool { return r.Err != nil }

// Route returns the next edge name for a graph router: the given edge on
// success, FallbackRoute on contained failure.
func (r NodeResult[T]) Route(next string) string {
	if r.Fallback() {
		return FallbackRoute
	}
	return next
}

// Node is an execution-graph step function over a run state.
type Node[S, T any] func(ctx context.Context, state S) (T, error)

// failureSink is implemented by run states that can record contained node
// failures; *PlanRun satisfies it.
type failureSink interface {
	RunID() string
	RecordNodeError(NodeError)
}

// Safe wraps a node function with an error boundary. Panics and returned
// errors never propagate past the wrapper: the failure is attached to the
// state when it can record one, a single step_failed event is published, and
// the result is tagged for fallback routing. Containment only; the node is
// not re-executed.
func Safe[S, T any](name string, pub events.Publisher, fn Node[S, T]) func(ctx context.Context, state S) NodeResult[T] {
	return func(ctx context.Context, state S) (res NodeResult[T]) {
		defer func() {
			if r := recover(); r != nil {
				res = contain[S, T](ctx, name, pub, state, NodeError{
					Node:    name,
					Message: fmt.Sprintf("%v", r),
					Stack:   string(debug.Stack()),
				})
			}
		}()
		val, err := fn(ctx, state)
		if err != nil {
			return contain[S, T](ctx, name, pub, state, NodeError{Node: name, Message: err.Error()})
		}
		return NodeResult[T]{Value: val}
	}
}

func contain[S, T any](ctx context.Context, name string, pub events.Publisher, state S, ne NodeError) NodeResult[T] {
	runID := ""
	if sink, ok := any(state).(failureSink); ok {
		runID = sink.RunID()
		sink.RecordNodeError(ne)
	}
	logging.Error("executor", "node failure contained", "node", name, "run_id", runID, "error", ne.Message)
	if pub != nil {
		err := pub.Publish(ctx, events.New(runID, events.TypeStepFailed, map[string]any{
			"node":    ne.Node,
			"message": ne.Message,
			"stack":   ne.Stack,
		}))
		if err != nil {
			logging.Warn("executor", "publish step_failed", "node", name, "error", err)
		}
	}
	return NodeResult[T]{Err: &ne}
}
