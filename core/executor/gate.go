package executor

import (
	"context"
	"strings"
	"time"

	"github.com/relayloop/relayloop/core/events"
	"github.com/relayloop/relayloop/core/infra/logging"
)

// Gate decides whether a run has every required input before execution
// begins. It is a two-state gate: open (proceed) or blocked (the run pauses
// until new answers arrive and the gate is re-evaluated).
type Gate struct {
	Events events.Publisher
}

// uiInputType maps a missing field's declared type to the input widget the UI
// should render for its question.
func uiInputType(fieldType string) string {
	switch strings.ToLower(fieldType) {
	case "date", "datetime":
		return "datetime"
	case "email":
		return "email"
	case "select", "enum":
		return "select"
	case "number":
		return "number"
	case "bool", "boolean":
		return "checkbox"
	default:
		return "text"
	}
}

// EnsureInputs re-evaluates the run's missing fields against recorded answers
// and extracted values. Unresolved fields become questions and the run is
// marked awaiting input; when none remain any prior awaiting marker is
// cleared. Returns true when the gate is open.
//
// EnsureInputs never fails: an internal panic degrades to "no questions
// pending" so a broken extraction cannot deadlock a run.
func (g *Gate) EnsureInputs(ctx context.Context, run *PlanRun) (open bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("executor", "input gate recovered", "run_id", run.ID, "panic", r)
			run.Awaiting = nil
			open = true
		}
	}()

	if run.Intent == nil || len(run.Intent.Missing) == 0 {
		g.clearAwaiting(run)
		return true
	}

	var questions []Question
	for _, field := range run.Intent.Missing {
		if resolvedField(run, field.Key) {
			continue
		}
		prompt := field.Prompt
		if prompt == "" {
			prompt = "Please provide " + field.Key
		}
		questions = append(questions, Question{
			Key:       field.Key,
			Prompt:    prompt,
			InputType: uiInputType(field.Type),
			Required:  field.Required,
			Options:   field.Options,
		})
	}

	if len(questions) == 0 {
		g.clearAwaiting(run)
		return true
	}

	run.Awaiting = &Awaiting{Questions: questions, Since: time.Now().UTC()}
	run.Status = RunStatusAwaitingInput
	if g.Events != nil {
		err := g.Events.Publish(ctx, events.New(run.ID, events.TypeAwaitingInput, map[string]any{
			"questions": questions,
		}))
		if err != nil {
			logging.Warn("executor", "publish awaiting_input", "run_id", run.ID, "error", err)
		}
	}
	return false
}

func (g *Gate) clearAwaiting(run *PlanRun) {
	run.Awaiting = nil
	if run.Status == RunStatusAwaitingInput {
		run.Status = RunStatusPending
	}
}

// resolvedField reports whether a missing field is already satisfied by a
// recorded answer or a value the extraction itself produced.
func resolvedField(run *PlanRun, key string) bool {
	if val, ok := run.Answers[key]; ok && presentValue(val) {
		return true
	}
	if run.Intent != nil {
		if val, ok := run.Intent.Extracted[key]; ok && presentValue(val) {
			return true
		}
	}
	return false
}

// presentValue reports whether a value counts as an answer. Absent values,
// empty collections and blank strings do not.
func presentValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
