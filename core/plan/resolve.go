package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Iteration is the per-item context supplied to the single step invocation
// currently processing one element of an expansion. It is never visible to
// sibling invocations or other steps.
type Iteration struct {
	Item  any
	Index int
}

// Options tunes resolution. Timezone is the ambient zone used by $fmt helpers
// when no explicit zone argument is given.
type Options struct {
	Timezone string
}

var (
	wholeVarRe  = regexp.MustCompile(`^\$var\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)$`)
	wholeEachRe = regexp.MustCompile(`^\$each(?:\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*))?$`)
	embedVarRe  = regexp.MustCompile(`\$var\.[A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*`)
	embedEachRe = regexp.MustCompile(`\$each(?:\.[A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)?`)
	fmtFuncRe   = regexp.MustCompile(`\$fmt\.(datetime|range|listRange)\(([^()]*)\)`)
)

// Resolve substitutes placeholder expressions in a step's argument tree
// against the run's variable bindings and an optional iteration context.
//
// Whole-string $var.<path> and $each[.<path>] references preserve the typed
// value (arrays, numbers and objects pass through as-is). $fmt helpers are
// evaluated before embedded $var interpolation so their arguments can still
// carry raw tokens. Embedded $each tokens are only substituted when an
// iteration context is present; without one they are left for per-item
// execution time.
//
// Resolution never fails: malformed syntax degrades to the original text or
// an empty substitution, favoring forward progress over hard failure.
func Resolve(args any, vars map[string]any, iter *Iteration, opts Options) any {
	return resolveValue(args, vars, iter, opts)
}

func resolveValue(v any, vars map[string]any, iter *Iteration, opts Options) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, vars, iter, opts)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = resolveValue(item, vars, iter, opts)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = resolveValue(item, vars, iter, opts)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, vars map[string]any, iter *Iteration, opts Options) any {
	// Whole-string references keep the referenced value's type.
	if m := wholeVarRe.FindStringSubmatch(s); m != nil {
		if val, ok := lookupPath(vars, m[1]); ok {
			return val
		}
		return s
	}
	if m := wholeEachRe.FindStringSubmatch(s); m != nil {
		if iter == nil {
			return s
		}
		return resolveEachPath(iter.Item, m[1], s)
	}

	// Formatting helpers run before generic interpolation so that their
	// arguments can still be raw $var/$each expressions.
	if strings.Contains(s, "$fmt.") {
		s = fmtFuncRe.ReplaceAllStringFunc(s, func(match string) string {
			m := fmtFuncRe.FindStringSubmatch(match)
			return evalFmtFunc(m[1], m[2], vars, iter, opts)
		})
	}

	if iter != nil && strings.Contains(s, "$each") {
		s = embedEachRe.ReplaceAllStringFunc(s, func(match string) string {
			path := strings.TrimPrefix(match, "$each")
			path = strings.TrimPrefix(path, ".")
			val := resolveEachPath(iter.Item, path, "")
			return stringifyValue(val)
		})
	}

	if strings.Contains(s, "$var.") {
		s = embedVarRe.ReplaceAllStringFunc(s, func(match string) string {
			path := strings.TrimPrefix(match, "$var.")
			val, ok := lookupPath(vars, path)
			if !ok {
				return ""
			}
			return stringifyValue(val)
		})
	}
	return s
}

// resolveEachPath resolves a path inside the current iteration item. A path
// ending in .address falls back to the immediate parent when that parent is a
// plain string, accommodating values that are sometimes a bare address and
// sometimes a structured contact object.
func resolveEachPath(item any, path string, miss any) any {
	if path == "" {
		return item
	}
	if val, ok := lookupPath(item, path); ok {
		return val
	}
	if lastSegment(path) == "address" {
		parent := strings.TrimSuffix(path, "address")
		parent = strings.TrimSuffix(parent, ".")
		var pv any
		var ok bool
		if parent == "" {
			pv, ok = item, true
		} else {
			pv, ok = lookupPath(item, parent)
		}
		if ok {
			if s, isStr := pv.(string); isStr {
				return s
			}
		}
	}
	return miss
}

// lookupPath walks a dot-delimited path through nested maps and slices.
// Numeric segments index into slices.
func lookupPath(root any, path string) (any, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// stringifyValue renders a value for embedding inside a larger string.
// Objects and arrays fall back to their JSON rendering; nil renders empty.
func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
