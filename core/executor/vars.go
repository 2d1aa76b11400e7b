package executor

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/relayloop/relayloop/core/infra/logging"
)

// Vars is the run-scoped variable binding table. It is append-only during a
// run: Bind never overwrites an existing name with a different value, it
// suffixes the later name instead.
type Vars map[string]any

// Bind stores value under name and returns the name actually used. Rebinding
// the same value to the same name is a no-op; a conflicting rebind gets a
// numeric suffix.
func (v Vars) Bind(name string, value any) string {
	existing, ok := v[name]
	if !ok {
		v[name] = value
		return name
	}
	if reflect.DeepEqual(existing, value) {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		prev, taken := v[candidate]
		if !taken {
			v[candidate] = value
			return candidate
		}
		if reflect.DeepEqual(prev, value) {
			return candidate
		}
	}
}

// Extract evaluates a bind extraction path against a step result. Paths use
// the `$.<field>.<sub>` form; `$` or `$.` selects the whole result.
func Extract(result any, path string) (any, error) {
	expr := strings.TrimPrefix(path, "$")
	if expr == "" || expr == "." {
		expr = "."
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse extraction path %q: %w", path, err)
	}
	iter := query.Run(result)
	val, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := val.(error); isErr {
		return nil, fmt.Errorf("extract %q: %w", path, err)
	}
	return val, nil
}

// CaptureBinds extracts every declared bind from a completed step's result
// into the variable table. Extraction failures bind nil rather than aborting
// the run; downstream resolution degrades the same way a malformed
// placeholder does.
func CaptureBinds(vars Vars, stepID string, binds map[string]string, result any) {
	for name, path := range binds {
		val, err := Extract(result, path)
		if err != nil {
			logging.Warn("executor", "bind extraction failed", "step_id", stepID, "var", name, "path", path, "error", err)
			val = nil
		}
		vars.Bind(name, val)
	}
}
