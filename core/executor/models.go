package executor

import (
	"time"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/plan"
)

// RunStatus captures the lifecycle of a plan run.
type RunStatus string

const (
	RunStatusPending       RunStatus = "pending"
	RunStatusRunning       RunStatus = "running"
	RunStatusAwaitingInput RunStatus = "awaiting_input"
	RunStatusSucceeded     RunStatus = "succeeded"
	RunStatusFailed        RunStatus = "failed"
	RunStatusCancelled     RunStatus = "cancelled"
)

// StepStatus captures the lifecycle of a step within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusCancelled StepStatus = "cancelled"
)

// MissingField is one required input the goal extraction could not fill in.
type MissingField struct {
	Key      string   `json:"key"`
	Prompt   string   `json:"prompt,omitempty"`
	Type     string   `json:"type,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Intent is the goal extraction output the input gate evaluates.
type Intent struct {
	Goal      string         `json:"goal,omitempty"`
	Missing   []MissingField `json:"missing,omitempty"`
	Extracted map[string]any `json:"extracted,omitempty"`
}

// Question is one field the user must answer before execution proceeds.
type Question struct {
	Key       string   `json:"key"`
	Prompt    string   `json:"prompt"`
	InputType string   `json:"input_type"`
	Required  bool     `json:"required"`
	Options   []string `json:"options,omitempty"`
}

// Awaiting marks a run paused on unanswered questions.
type Awaiting struct {
	Questions []Question `json:"questions"`
	Since     time.Time  `json:"since"`
}

// NodeError describes a failure contained by a graph node boundary.
type NodeError struct {
	Node    string `json:"node"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// StepRun tracks execution state for one step (or one expansion child).
type StepRun struct {
	StepID      string              `json:"step_id"`
	Status      StepStatus          `json:"status"`
	JobID       string              `json:"job_id,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Output      any                 `json:"output,omitempty"`
	Error       map[string]any      `json:"error,omitempty"`
	Item        any                 `json:"item,omitempty"`
	Index       int                 `json:"index,omitempty"`
	Children    map[string]*StepRun `json:"children,omitempty"`
}

// PlanRun is one execution of a proposed plan.
type PlanRun struct {
	ID          string              `json:"id"`
	Goal        string              `json:"goal,omitempty"`
	Steps       []*plan.PlanStep    `json:"steps"`
	StepRuns    map[string]*StepRun `json:"step_runs,omitempty"`
	Vars        Vars                `json:"vars,omitempty"`
	Intent      *Intent             `json:"intent,omitempty"`
	Answers     map[string]any      `json:"answers,omitempty"`
	Awaiting    *Awaiting           `json:"awaiting,omitempty"`
	Actor       actor.Context       `json:"actor"`
	Status      RunStatus           `json:"status"`
	Error       map[string]any      `json:"error,omitempty"`
	NodeErrors  []NodeError         `json:"node_errors,omitempty"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// RunID identifies the run for event attribution.
func (r *PlanRun) RunID() string { return r.ID }

// RecordNodeError appends a contained node failure to the run state.
func (r *PlanRun) RecordNodeError(ne NodeError) {
	r.NodeErrors = append(r.NodeErrors, ne)
}

func (r *PlanRun) stepRun(stepID string) *StepRun {
	if r.StepRuns == nil {
		r.StepRuns = make(map[string]*StepRun)
	}
	sr := r.StepRuns[stepID]
	if sr == nil {
		sr = &StepRun{StepID: stepID, Status: StepStatusPending}
		r.StepRuns[stepID] = sr
	}
	return sr
}
