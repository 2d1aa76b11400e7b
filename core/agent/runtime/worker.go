// Package runtime runs tool workers: processes that consume step jobs from
// the queue, execute the named tool and publish results back on the shared
// result subject.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relayloop/relayloop/core/dispatch"
	"github.com/relayloop/relayloop/core/infra/bus"
	"github.com/relayloop/relayloop/core/infra/logging"
	"github.com/relayloop/relayloop/core/tool"
)

const component = "worker"

// Config holds configuration for a Worker.
type Config struct {
	WorkerID   string
	QueueGroup string
	// Subject defaults to all step jobs (job.step.>); set it to a single
	// tool's subject to run a dedicated worker.
	Subject string
	// JobTimeout bounds one tool invocation. Zero means no bound beyond the
	// worker's lifetime.
	JobTimeout time.Duration
}

// Worker consumes step jobs and executes tools from a registry.
type Worker struct {
	cfg        Config
	bus        bus.Bus
	tools      *tool.Registry
	activeJobs atomic.Int32

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// New creates a worker over an existing bus and tool registry.
func New(cfg Config, b bus.Bus, tools *tool.Registry) *Worker {
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "step-workers"
	}
	if cfg.Subject == "" {
		cfg.Subject = bus.StepJobPrefix + ">"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:     cfg,
		bus:     b,
		tools:   tools,
		ctx:     ctx,
		cancel:  cancel,
		cancels: make(map[string]context.CancelFunc),
	}
}

// ActiveJobs reports the number of jobs currently executing.
func (w *Worker) ActiveJobs() int32 { return w.activeJobs.Load() }

// Start subscribes to the job subject and blocks until SIGINT/SIGTERM.
func (w *Worker) Start() error {
	if err := w.Subscribe(); err != nil {
		return err
	}
	logging.Info(component, "worker running", "worker_id", w.cfg.WorkerID, "subject", w.cfg.Subject, "queue", w.cfg.QueueGroup)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info(component, "shutting down", "worker_id", w.cfg.WorkerID)
	w.Stop()
	return nil
}

// Subscribe wires the job subscription without blocking; useful when the
// caller owns the process lifecycle.
func (w *Worker) Subscribe() error {
	return w.bus.Subscribe(w.cfg.Subject, w.cfg.QueueGroup, w.handleJob)
}

// Stop cancels in-flight jobs and waits for them to finish.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) handleJob(data []byte) error {
	var job dispatch.StepJob
	if err := json.Unmarshal(data, &job); err != nil {
		logging.Error(component, "decode step job", "worker_id", w.cfg.WorkerID, "error", err)
		return nil
	}
	if job.JobID == "" || job.Tool == "" {
		return nil
	}

	w.wg.Add(1)
	w.activeJobs.Add(1)
	defer w.wg.Done()
	defer w.activeJobs.Add(-1)

	ctx := w.ctx
	if w.cfg.JobTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancelTimeout()
	}
	ctx, cancelJob := context.WithCancel(ctx)
	w.registerCancel(job.JobID, cancelJob)
	defer w.clearCancel(job.JobID)

	started := time.Now()
	output, err := w.execute(ctx, job)
	res := dispatch.StepResult{
		JobID:       job.JobID,
		Status:      dispatch.StatusSucceeded,
		ExecutionMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		res.Status = dispatch.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) {
			res.Status = dispatch.StatusTimeout
		}
		res.Error = err.Error()
		logging.Error(component, "tool failed", "worker_id", w.cfg.WorkerID, "job_id", job.JobID, "tool", job.Tool, "error", err)
	} else if output != nil {
		payload, merr := json.Marshal(output)
		if merr != nil {
			res.Status = dispatch.StatusFailed
			res.Error = "encode tool output: " + merr.Error()
		} else {
			res.Output = payload
		}
	}

	body, err := json.Marshal(res)
	if err != nil {
		logging.Error(component, "encode step result", "job_id", job.JobID, "error", err)
		return nil
	}
	if err := w.bus.Publish(bus.SubjectStepResult, body); err != nil {
		logging.Error(component, "publish step result", "job_id", job.JobID, "error", err)
		return bus.RetryAfter(err, time.Second)
	}
	logging.Info(component, "job completed", "worker_id", w.cfg.WorkerID, "job_id", job.JobID, "status", res.Status)
	return nil
}

func (w *Worker) execute(ctx context.Context, job dispatch.StepJob) (any, error) {
	tl, err := w.tools.Get(job.Tool)
	if err != nil {
		return nil, err
	}
	return tl.Call(ctx, job.Args, job.Actor)
}

func (w *Worker) registerCancel(jobID string, cancel context.CancelFunc) {
	w.cancelMu.Lock()
	w.cancels[jobID] = cancel
	w.cancelMu.Unlock()
}

func (w *Worker) clearCancel(jobID string) {
	w.cancelMu.Lock()
	if cancel, ok := w.cancels[jobID]; ok {
		cancel()
		delete(w.cancels, jobID)
	}
	w.cancelMu.Unlock()
}

// CancelJob cancels one in-flight job by id, if this worker is running it.
func (w *Worker) CancelJob(jobID string) {
	w.cancelMu.Lock()
	cancel := w.cancels[jobID]
	w.cancelMu.Unlock()
	if cancel != nil {
		logging.Info(component, "cancelling job", "worker_id", w.cfg.WorkerID, "job_id", jobID)
		cancel()
	}
}
