package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/infra/config"
	"github.com/relayloop/relayloop/core/infra/logging"
	"github.com/relayloop/relayloop/core/infra/metrics"
)

const component = "dispatch"

// Request is one concrete step invocation to execute through the queue.
type Request struct {
	RunID  string
	StepID string
	Tool   string
	Args   map[string]any
	Actor  actor.Context
}

// Result is a completed step invocation's outcome.
type Result struct {
	JobID       string
	Output      any
	ExecutionMs int64
}

// Dispatcher enqueues step jobs on the bus and waits for their results under
// a bounded timeout. The result subscription is established lazily, once per
// process, and reused across dispatches.
type Dispatcher struct {
	bus      bus.Bus
	jobs     *JobStore
	timeouts *config.TimeoutsConfig
	metrics  metrics.Metrics

	mu         sync.Mutex
	pending    map[string]chan StepResult
	subscribed bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithJobStore records job lifecycle in Redis with bounded retention.
func WithJobStore(store *JobStore) Option {
	return func(d *Dispatcher) { d.jobs = store }
}

// WithTimeouts overrides the dispatch policy (wait timeout, attempts, backoff).
func WithTimeouts(cfg *config.TimeoutsConfig) Option {
	return func(d *Dispatcher) {
		if cfg != nil {
			d.timeouts = cfg
		}
	}
}

// WithMetrics attaches step dispatch metrics.
func WithMetrics(m metrics.Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// NewDispatcher creates a dispatcher bound to a queue bus. A nil bus is
// allowed; every Dispatch then fails with ErrQueueUnavailable.
func NewDispatcher(b bus.Bus, opts ...Option) *Dispatcher {
	defaults, _ := config.ParseTimeouts(nil)
	d := &Dispatcher{
		bus:      b,
		timeouts: defaults,
		metrics:  metrics.Noop{},
		pending:  make(map[string]chan StepResult),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes one concrete step invocation: it publishes a StepJob,
// waits for the result, and retries failed attempts per policy. A timeout is
// terminal for the attempt loop because the job may still be running.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if d == nil || d.bus == nil {
		return Result{}, ErrQueueUnavailable
	}
	if err := d.ensureResultSubscription(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	policy := d.timeouts.ForTool(req.Tool)
	wait := time.Duration(policy.WaitTimeoutSeconds) * time.Second
	backoff := time.Duration(policy.InitialBackoffMs) * time.Millisecond
	ac := actor.Prefer(ctx, req.Actor)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		job := StepJob{
			JobID:      JobID(req.RunID, req.StepID, attempt),
			RunID:      req.RunID,
			PlanStepID: req.StepID,
			Tool:       req.Tool,
			Args:       req.Args,
			Actor:      ac,
			Attempt:    attempt,
			EnqueuedAt: time.Now().UTC(),
		}
		res, err := d.dispatchOnce(ctx, job, wait)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrStepTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		lastErr = err
		if attempt < policy.MaxAttempts {
			logging.Warn(component, "step attempt failed, retrying",
				"job_id", job.JobID, "tool", req.Tool, "backoff", backoff.String(), "error", err)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return Result{}, lastErr
}

func (d *Dispatcher) dispatchOnce(ctx context.Context, job StepJob, wait time.Duration) (Result, error) {
	ch := make(chan StepResult, 1)
	d.mu.Lock()
	d.pending[job.JobID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, job.JobID)
		d.mu.Unlock()
	}()

	payload, err := json.Marshal(job)
	if err != nil {
		return Result{}, fmt.Errorf("marshal step job: %w", err)
	}
	if d.jobs != nil {
		if err := d.jobs.Record(ctx, job); err != nil {
			logging.Warn(component, "record job", "job_id", job.JobID, "error", err)
		}
	}
	if err := d.bus.Publish(bus.StepSubject(job.Tool), payload); err != nil {
		return Result{}, fmt.Errorf("publish step job: %w", err)
	}
	d.metrics.IncStepsDispatched(job.Tool)
	started := time.Now()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-timer.C:
		d.metrics.IncStepTimeouts(job.Tool)
		d.metrics.IncStepsCompleted(job.Tool, StatusTimeout)
		d.setJobState(ctx, job.JobID, StatusTimeout, "wait timeout elapsed")
		return Result{}, fmt.Errorf("%w: job %s after %s", ErrStepTimeout, job.JobID, wait)
	case res := <-ch:
		d.metrics.ObserveDispatchWait(job.Tool, time.Since(started).Seconds())
		if res.Status != StatusSucceeded {
			d.metrics.IncStepsCompleted(job.Tool, StatusFailed)
			d.setJobState(ctx, job.JobID, StatusFailed, res.Error)
			return Result{}, &ToolError{Tool: job.Tool, JobID: job.JobID, Message: res.Error}
		}
		d.metrics.IncStepsCompleted(job.Tool, StatusSucceeded)
		d.setJobState(ctx, job.JobID, StatusSucceeded, "")
		var output any
		if len(res.Output) > 0 {
			if err := json.Unmarshal(res.Output, &output); err != nil {
				return Result{}, fmt.Errorf("decode result for job %s: %w", job.JobID, err)
			}
		}
		return Result{JobID: res.JobID, Output: output, ExecutionMs: res.ExecutionMs}, nil
	}
}

// ensureResultSubscription wires the shared result subject on first use. A
// failed attempt is retried on the next dispatch so a transient bus error at
// startup does not stick. Results for unknown job ids (late arrivals after a
// timeout) are discarded.
func (d *Dispatcher) ensureResultSubscription() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscribed {
		return nil
	}
	err := d.bus.Subscribe(bus.SubjectStepResult, "", func(data []byte) error {
		var res StepResult
		if err := json.Unmarshal(data, &res); err != nil {
			logging.Error(component, "decode step result", "error", err)
			return nil
		}
		d.mu.Lock()
		ch, ok := d.pending[res.JobID]
		if ok {
			delete(d.pending, res.JobID)
		}
		d.mu.Unlock()
		if !ok {
			logging.Warn(component, "discarding result for unknown job", "job_id", res.JobID)
			return nil
		}
		ch <- res
		return nil
	})
	if err != nil {
		return err
	}
	d.subscribed = true
	return nil
}

func (d *Dispatcher) setJobState(ctx context.Context, jobID, state, errMsg string) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.SetState(ctx, jobID, state, errMsg); err != nil {
		logging.Warn(component, "set job state", "job_id", jobID, "state", state, "error", err)
	}
}
