package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics captures counters for step dispatch.
type Metrics interface {
	IncStepsDispatched(tool string)
	IncStepsCompleted(tool, status string)
	IncStepTimeouts(tool string)
	ObserveDispatchWait(tool string, seconds float64)
}

// RunMetrics captures orchestrator-level run metrics.
type RunMetrics interface {
	IncRunsStarted()
	IncRunsCompleted(status string)
	ObserveRunDuration(seconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncStepsDispatched(string)           {}
func (Noop) IncStepsCompleted(string, string)    {}
func (Noop) IncStepTimeouts(string)              {}
func (Noop) ObserveDispatchWait(string, float64) {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	dispatched   *prometheus.CounterVec
	completed    *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	dispatchWait *prometheus.HistogramVec
	once         sync.Once
}

// NewProm registers and returns step dispatch metrics under a namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_dispatched_total",
			Help:      "Step jobs dispatched by tool",
		}, []string{"tool"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_completed_total",
			Help:      "Step jobs completed by tool and status",
		}, []string{"tool", "status"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_timeouts_total",
			Help:      "Step dispatches that timed out waiting for a result",
		}, []string{"tool"}),
		dispatchWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_dispatch_wait_seconds",
			Help:      "Time spent waiting for a step job result",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	p.once.Do(func() {
		prometheus.MustRegister(p.dispatched, p.completed, p.timeouts, p.dispatchWait)
	})
	return p
}

func (p *Prom) IncStepsDispatched(tool string) {
	p.dispatched.WithLabelValues(tool).Inc()
}

func (p *Prom) IncStepsCompleted(tool, status string) {
	p.completed.WithLabelValues(tool, status).Inc()
}

func (p *Prom) IncStepTimeouts(tool string) {
	p.timeouts.WithLabelValues(tool).Inc()
}

func (p *Prom) ObserveDispatchWait(tool string, seconds float64) {
	p.dispatchWait.WithLabelValues(tool).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Run metrics (orchestrator) ---

type runProm struct {
	started   prometheus.Counter
	completed *prometheus.CounterVec
	duration  prometheus.Histogram
	once      sync.Once
}

// NewRunProm constructs RunMetrics with counters/histograms.
func NewRunProm(namespace string) RunMetrics {
	r := &runProm{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Plan runs started",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Plan runs completed by status",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Plan run duration seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	r.once.Do(func() {
		prometheus.MustRegister(r.started, r.completed, r.duration)
	})
	return r
}

func (r *runProm) IncRunsStarted() {
	r.started.Inc()
}

func (r *runProm) IncRunsCompleted(status string) {
	r.completed.WithLabelValues(status).Inc()
}

func (r *runProm) ObserveRunDuration(seconds float64) {
	r.duration.Observe(seconds)
}

// NoopRun implements RunMetrics without emitting anything.
type NoopRun struct{}

func (NoopRun) IncRunsStarted()            {}
func (NoopRun) IncRunsCompleted(string)    {}
func (NoopRun) ObserveRunDuration(float64) {}
