package plan

// PlanStep is a single proposed unit of work emitted by the planner.
//
// Args is an arbitrary JSON-shaped tree; leaf strings may carry placeholder
// syntax ($var.*, $each.*, $fmt.*) or legacy cross-step references
// (step-<id>.<path>) that Normalize rewrites before execution.
type PlanStep struct {
	ID        string            `json:"id"`
	Tool      string            `json:"tool"`
	Args      map[string]any    `json:"args,omitempty"`
	DependsOn string            `json:"depends_on,omitempty"`
	Binds     map[string]string `json:"binds,omitempty"`
	ExpandOn  string            `json:"expand_on,omitempty"`
}

// Clone returns a deep copy of the step, including its argument tree, so that
// later mutation cannot alias the planner's original output.
func (s *PlanStep) Clone() *PlanStep {
	if s == nil {
		return nil
	}
	out := &PlanStep{
		ID:        s.ID,
		Tool:      s.Tool,
		DependsOn: s.DependsOn,
		ExpandOn:  s.ExpandOn,
	}
	if s.Args != nil {
		out.Args = CloneValue(s.Args).(map[string]any)
	}
	if s.Binds != nil {
		out.Binds = make(map[string]string, len(s.Binds))
		for k, v := range s.Binds {
			out.Binds[k] = v
		}
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value. The value domain is the closed
// set produced by encoding/json: nil, bool, float64, string, []any and
// map[string]any. Anything else is returned as-is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	default:
		return v
	}
}
