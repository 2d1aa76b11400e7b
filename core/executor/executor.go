package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayloop/relayloop/core/dispatch"
	"github.com/relayloop/relayloop/core/events"
	"github.com/relayloop/relayloop/core/infra/locks"
	"github.com/relayloop/relayloop/core/infra/logging"
	"github.com/relayloop/relayloop/core/infra/metrics"
	"github.com/relayloop/relayloop/core/plan"
)

const (
	component          = "executor"
	defaultMaxParallel = 4
)

// StepDispatcher executes one concrete step invocation through the job queue.
// *dispatch.Dispatcher satisfies it; tests substitute a double.
type StepDispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// RunStore persists run state; *RedisStore satisfies it.
type RunStore interface {
	SaveRun(ctx context.Context, run *PlanRun) error
}

// Executor carries a plan run out: it normalizes the proposed steps, checks
// the input gate, then dispatches each step in dependency order, resolving
// placeholders against variables bound by completed producer steps and
// fanning expansion steps out over their collection.
type Executor struct {
	dispatcher  StepDispatcher
	store       RunStore
	events      events.Publisher
	metrics     metrics.RunMetrics
	lock        *locks.RunLock
	instanceID  string
	maxParallel int
}

// ErrRunLocked reports that another executor instance holds the run.
var ErrRunLocked = fmt.Errorf("run locked by another instance")

// ExecOption configures an Executor.
type ExecOption func(*Executor)

// WithRunStore persists run state after every step transition.
func WithRunStore(store RunStore) ExecOption {
	return func(e *Executor) { e.store = store }
}

// WithEvents publishes run lifecycle events.
func WithEvents(pub events.Publisher) ExecOption {
	return func(e *Executor) { e.events = pub }
}

// WithRunMetrics records run counters and durations.
func WithRunMetrics(m metrics.RunMetrics) ExecOption {
	return func(e *Executor) { e.metrics = m }
}

// WithRunLock guards each run with a distributed lock so a second
// orchestrator instance cannot execute it concurrently. instanceID names
// the lock owner.
func WithRunLock(lock *locks.RunLock, instanceID string) ExecOption {
	return func(e *Executor) {
		e.lock = lock
		e.instanceID = instanceID
	}
}

// WithMaxParallel bounds the expansion fan-out. Values below 1 keep the
// default.
func WithMaxParallel(n int) ExecOption {
	return func(e *Executor) {
		if n >= 1 {
			e.maxParallel = n
		}
	}
}

// NewExecutor creates an executor over a step dispatcher.
func NewExecutor(d StepDispatcher, opts ...ExecOption) *Executor {
	e := &Executor{
		dispatcher:  d,
		metrics:     metrics.NoopRun{},
		maxParallel: defaultMaxParallel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// prepared is the outcome of the pre-dispatch phase: whether the input gate
// opened, and the dependency-ordered steps when it did.
type prepared struct {
	open    bool
	ordered []*plan.PlanStep
}

// Execute runs a plan to a terminal or paused state. The outcome is carried
// in the run itself; the returned error reports infrastructure failures only
// (a failed step marks the run failed and returns nil).
func (e *Executor) Execute(ctx context.Context, run *PlanRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id required")
	}
	if e.dispatcher == nil {
		return fmt.Errorf("dispatcher required")
	}
	if run.Vars == nil {
		run.Vars = make(Vars)
	}

	if e.lock != nil {
		ok, err := e.lock.Acquire(ctx, run.ID, e.instanceID)
		if err != nil {
			return fmt.Errorf("acquire run lock %s: %w", run.ID, err)
		}
		if !ok {
			return fmt.Errorf("run %s: %w", run.ID, ErrRunLocked)
		}
		defer func() {
			if err := e.lock.Release(context.WithoutCancel(ctx), run.ID, e.instanceID); err != nil {
				logging.Warn(component, "release run lock", "run_id", run.ID, "error", err)
			}
		}()
	}

	// The prepare phase runs inside the error boundary so a malformed plan
	// fails the run instead of taking the orchestrator down.
	prepare := Safe("prepare", e.events, func(ctx context.Context, run *PlanRun) (prepared, error) {
		run.Steps = plan.Normalize(run.Steps)
		gate := &Gate{Events: e.events}
		if !gate.EnsureInputs(ctx, run) {
			return prepared{}, nil
		}
		ordered, err := orderSteps(run.Steps)
		if err != nil {
			return prepared{}, err
		}
		return prepared{open: true, ordered: ordered}, nil
	})
	prep := prepare(ctx, run)
	if prep.Fallback() {
		return e.failRun(ctx, run, errors.New(prep.Err.Message))
	}
	if !prep.Value.open {
		logging.Info(component, "run awaiting input", "run_id", run.ID, "questions", len(run.Awaiting.Questions))
		return e.save(ctx, run)
	}

	now := time.Now().UTC()
	if run.Status == RunStatusPending || run.Status == "" || run.Status == RunStatusAwaitingInput {
		run.Status = RunStatusRunning
		run.StartedAt = &now
		e.metrics.IncRunsStarted()
	}
	if err := e.save(ctx, run); err != nil {
		return err
	}

	for _, step := range prep.Value.ordered {
		sr := run.stepRun(step.ID)
		if sr.Status == StepStatusSucceeded {
			continue
		}
		if err := e.executeStep(ctx, run, step); err != nil {
			if ctx.Err() != nil {
				return err
			}
			return e.failRun(ctx, run, err)
		}
		if err := e.save(ctx, run); err != nil {
			return err
		}
	}

	done := time.Now().UTC()
	run.Status = RunStatusSucceeded
	run.CompletedAt = &done
	e.metrics.IncRunsCompleted(string(RunStatusSucceeded))
	if run.StartedAt != nil {
		e.metrics.ObserveRunDuration(done.Sub(*run.StartedAt).Seconds())
	}
	e.publish(ctx, run.ID, events.TypeRunCompleted, map[string]any{"steps": len(run.Steps)})
	return e.save(ctx, run)
}

// SubmitAnswers records user-provided answers and re-evaluates the gate,
// resuming execution when it opens.
func (e *Executor) SubmitAnswers(ctx context.Context, run *PlanRun, answers map[string]any) error {
	if run.Answers == nil {
		run.Answers = make(map[string]any, len(answers))
	}
	for k, v := range answers {
		run.Answers[k] = v
	}
	return e.Execute(ctx, run)
}

func (e *Executor) executeStep(ctx context.Context, run *PlanRun, step *plan.PlanStep) error {
	if step.ExpandOn != "" {
		return e.executeExpansion(ctx, run, step)
	}

	sr := run.stepRun(step.ID)
	now := time.Now().UTC()
	sr.Status = StepStatusRunning
	sr.StartedAt = &now

	args := resolvedArgs(step.Args, run.Vars, nil, run.Actor.Timezone)
	res, err := e.dispatchOne(ctx, run, step.ID, step.Tool, args, nil)
	e.finishStep(sr, res, err)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.ID, err)
	}
	CaptureBinds(run.Vars, step.ID, step.Binds, res.Output)
	return nil
}

// executeExpansion fans one step out over the elements of its referenced
// collection, dispatching items with bounded parallelism. Each item's result
// stays attributable to its originating index; the parent's output is the
// index-ordered list of child outputs.
func (e *Executor) executeExpansion(ctx context.Context, run *PlanRun, step *plan.PlanStep) error {
	parent := run.stepRun(step.ID)
	now := time.Now().UTC()

	items := expansionItems(run.Vars, step.ExpandOn)
	if len(items) == 0 {
		parent.Status = StepStatusSucceeded
		parent.StartedAt = &now
		parent.CompletedAt = &now
		parent.Output = []any{}
		return nil
	}

	parent.Status = StepStatusRunning
	parent.StartedAt = &now
	if parent.Children == nil {
		parent.Children = make(map[string]*StepRun, len(items))
	}

	type itemOutcome struct {
		res dispatch.Result
		err error
	}
	outcomes := make([]itemOutcome, len(items))
	children := make([]*StepRun, len(items))
	for idx, item := range items {
		childID := fmt.Sprintf("%s[%d]", step.ID, idx)
		child := &StepRun{StepID: childID, Status: StepStatusRunning, Item: item, Index: idx, StartedAt: &now}
		parent.Children[childID] = child
		children[idx] = child
	}

	sem := make(chan struct{}, e.maxParallel)
	var wg sync.WaitGroup
	for idx, item := range items {
		wg.Add(1)
		go func(idx int, item any) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			iter := &plan.Iteration{Item: item, Index: idx}
			args := resolvedArgs(step.Args, run.Vars, iter, run.Actor.Timezone)
			res, err := e.dispatchOne(ctx, run, children[idx].StepID, step.Tool, args, iter)
			outcomes[idx] = itemOutcome{res: res, err: err}
		}(idx, item)
	}
	wg.Wait()

	outputs := make([]any, len(items))
	var firstErr error
	for idx, oc := range outcomes {
		e.finishStep(children[idx], oc.res, oc.err)
		outputs[idx] = oc.res.Output
		if oc.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("step %s: %w", children[idx].StepID, oc.err)
		}
	}

	done := time.Now().UTC()
	parent.CompletedAt = &done
	if firstErr != nil {
		parent.Status = StepStatusFailed
		parent.Error = map[string]any{"message": firstErr.Error()}
		return firstErr
	}
	parent.Status = StepStatusSucceeded
	parent.Output = outputs
	CaptureBinds(run.Vars, step.ID, step.Binds, any(outputs))
	return nil
}

func (e *Executor) dispatchOne(ctx context.Context, run *PlanRun, stepID, tool string, args map[string]any, iter *plan.Iteration) (dispatch.Result, error) {
	payload := map[string]any{"tool": tool, "step_id": stepID, "args": args}
	if iter != nil {
		payload["index"] = iter.Index
	}
	e.publish(ctx, run.ID, events.TypeToolCalled, payload)

	res, err := e.dispatcher.Dispatch(ctx, dispatch.Request{
		RunID:  run.ID,
		StepID: stepID,
		Tool:   tool,
		Args:   args,
		Actor:  run.Actor,
	})
	if err != nil {
		e.publish(ctx, run.ID, events.TypeToolFailed, map[string]any{
			"tool": tool, "step_id": stepID, "args": args, "error": err.Error(),
		})
		return res, err
	}
	e.publish(ctx, run.ID, events.TypeToolSucceeded, map[string]any{
		"tool": tool, "step_id": stepID, "job_id": res.JobID, "execution_ms": res.ExecutionMs,
	})
	return res, nil
}

func (e *Executor) finishStep(sr *StepRun, res dispatch.Result, err error) {
	now := time.Now().UTC()
	sr.CompletedAt = &now
	sr.JobID = res.JobID
	if err != nil {
		sr.Status = StepStatusFailed
		sr.Error = map[string]any{"message": err.Error()}
		return
	}
	sr.Status = StepStatusSucceeded
	sr.Output = res.Output
}

func (e *Executor) failRun(ctx context.Context, run *PlanRun, cause error) error {
	now := time.Now().UTC()
	run.Status = RunStatusFailed
	run.CompletedAt = &now
	run.Error = map[string]any{"message": cause.Error()}
	e.metrics.IncRunsCompleted(string(RunStatusFailed))
	if run.StartedAt != nil {
		e.metrics.ObserveRunDuration(now.Sub(*run.StartedAt).Seconds())
	}
	e.publish(ctx, run.ID, events.TypeRunFailed, map[string]any{"error": cause.Error()})
	logging.Error(component, "run failed", "run_id", run.ID, "error", cause)
	return e.save(ctx, run)
}

func (e *Executor) publish(ctx context.Context, runID, eventType string, payload map[string]any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, events.New(runID, eventType, payload)); err != nil {
		logging.Warn(component, "publish event", "run_id", runID, "type", eventType, "error", err)
	}
}

func (e *Executor) save(ctx context.Context, run *PlanRun) error {
	if e.store == nil {
		return nil
	}
	run.UpdatedAt = time.Now().UTC()
	if err := e.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// resolvedArgs resolves a step's argument tree, guaranteeing the
// map[string]any shape the job contract expects.
func resolvedArgs(args map[string]any, vars Vars, iter *plan.Iteration, timezone string) map[string]any {
	if args == nil {
		return nil
	}
	resolved := plan.Resolve(plan.CloneValue(args), vars, iter, plan.Options{Timezone: timezone})
	if m, ok := resolved.(map[string]any); ok {
		return m
	}
	return args
}

// expansionItems looks the expansion variable up in the binding table and
// coerces it to a slice. A scalar expands as a single item; a missing
// variable expands to nothing.
func expansionItems(vars Vars, name string) []any {
	val, ok := vars[name]
	if !ok || val == nil {
		return nil
	}
	switch t := val.(type) {
	case []any:
		return t
	default:
		return []any{t}
	}
}

// orderSteps returns the steps in dependency order: a step with a DependsOn
// reference is placed after its dependency. The planner's original order is
// preserved among independent steps. A dependency cycle or a reference to a
// step outside the plan is an error.
func orderSteps(steps []*plan.PlanStep) ([]*plan.PlanStep, error) {
	index := make(map[string]int, len(steps))
	for i, s := range steps {
		if s == nil {
			continue
		}
		index[s.ID] = i
	}

	// Producers referenced through binds are implicit dependencies too: a
	// consumer must not dispatch before the step that binds its variables.
	producers := make(map[string]string)
	for _, s := range steps {
		if s == nil {
			continue
		}
		for name := range s.Binds {
			producers[name] = s.ID
		}
	}

	deps := func(s *plan.PlanStep) []string {
		var out []string
		if s.DependsOn != "" {
			out = append(out, s.DependsOn)
		}
		if s.ExpandOn != "" {
			if p, ok := producers[s.ExpandOn]; ok && p != s.ID {
				out = append(out, p)
			}
		}
		return out
	}

	ordered := make([]*plan.PlanStep, 0, len(steps))
	state := make(map[string]int, len(steps)) // 0 unvisited, 1 visiting, 2 done
	var visit func(s *plan.PlanStep) error
	visit = func(s *plan.PlanStep) error {
		switch state[s.ID] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("dependency cycle through step %s", s.ID)
		}
		state[s.ID] = 1
		for _, dep := range deps(s) {
			i, ok := index[dep]
			if !ok {
				return fmt.Errorf("step %s depends on unknown step %s", s.ID, dep)
			}
			if err := visit(steps[i]); err != nil {
				return err
			}
		}
		state[s.ID] = 2
		ordered = append(ordered, s)
		return nil
	}

	// Visit in planner order for a stable result.
	for _, s := range steps {
		if s == nil {
			continue
		}
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
