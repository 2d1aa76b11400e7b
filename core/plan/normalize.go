package plan

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
)

// Legacy plan-authoring reference syntax. Collection references select a field
// of a producer's result and fan the consuming step out over its elements;
// scalar references pull a single value.
var (
	collectionRefRe = regexp.MustCompile(`step-([A-Za-z0-9_-]+)\.([A-Za-z0-9_]+)\[\*\](?:\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*))?`)
	scalarRefRe     = regexp.MustCompile(`step-([A-Za-z0-9_-]+)\.([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)`)
	varNameRe       = regexp.MustCompile(`[^A-Za-z0-9_]`)
)

// Normalize rewrites informal cross-step references embedded in argument
// strings into an explicit producer/consumer contract: producers get named
// binds (extraction paths into their own result), consumers get either a
// $var.<name> reference or an ExpandOn directive plus per-item $each
// placeholders.
//
// Normalize is pure and best-effort: every step is deep-cloned, unrecognized
// syntax and references to unknown producers are left untouched, and it never
// fails. Unresolvable references surface later, at argument-resolution time.
func Normalize(steps []*PlanStep) []*PlanStep {
	out := make([]*PlanStep, len(steps))
	index := make(map[string]*PlanStep, len(steps))
	binds := make(bindRegistry)
	for i, s := range steps {
		c := s.Clone()
		out[i] = c
		if c != nil && c.ID != "" {
			index[c.ID] = c
			for name, path := range c.Binds {
				binds[name] = bindOwner{producer: c.ID, path: path}
			}
		}
	}
	for _, step := range out {
		if step == nil || len(step.Args) == 0 {
			continue
		}
		normalizeExpansion(step, index, binds)
		normalizeScalars(step, index, binds)
	}
	return out
}

type collectionRef struct {
	producer string
	field    string
}

// normalizeExpansion detects the step's single expansion source (the first
// collection reference found in its argument tree), registers a bind on the
// producer and rewrites every occurrence of that reference to per-item form.
func normalizeExpansion(step *PlanStep, index map[string]*PlanStep, binds bindRegistry) {
	var ref *collectionRef
	scanStrings(step.Args, func(s string) {
		if ref != nil {
			return
		}
		m := collectionRefRe.FindStringSubmatch(s)
		if m == nil {
			return
		}
		ref = &collectionRef{producer: m[1], field: m[2]}
	})
	if ref == nil {
		return
	}
	producer := index[ref.producer]
	if producer == nil {
		// Unknown producer: leave the reference text for the resolver to
		// surface as a malformed placeholder.
		return
	}
	name := binds.register(producer, sanitizeVarName(ref.producer+"_"+ref.field), "$."+ref.field)
	step.ExpandOn = name
	mutateStrings(step.Args, func(s string) string {
		return collectionRefRe.ReplaceAllStringFunc(s, func(match string) string {
			m := collectionRefRe.FindStringSubmatch(match)
			if m[1] != ref.producer || m[2] != ref.field {
				return match
			}
			if m[3] != "" {
				return "$each." + m[3]
			}
			return "$each"
		})
	})
}

// normalizeScalars rewrites remaining step-<id>.<path> references. Each
// distinct (producer, path) pair yields one bind named after the last path
// segment, disambiguated with a short hash when the name is already taken
// anywhere in the plan.
func normalizeScalars(step *PlanStep, index map[string]*PlanStep, binds bindRegistry) {
	type scalarRef struct {
		producer string
		path     string
	}
	var refs []scalarRef
	seen := make(map[string]bool)
	scanStrings(step.Args, func(s string) {
		for _, m := range scalarRefIndexes(s) {
			producer, path := s[m[2]:m[3]], s[m[4]:m[5]]
			key := producer + "\x00" + path
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, scalarRef{producer: producer, path: path})
		}
	})
	if len(refs) == 0 {
		return
	}

	rewrite := make(map[string]string, len(refs))
	for _, ref := range refs {
		producer := index[ref.producer]
		if producer == nil {
			continue
		}
		segs := strings.Split(ref.path, ".")
		name := binds.register(producer, sanitizeVarName(segs[len(segs)-1]), "$."+ref.path)
		rewrite[ref.producer+"\x00"+ref.path] = "$var." + name
	}
	if len(rewrite) == 0 {
		return
	}

	mutateStrings(step.Args, func(s string) string {
		matches := scalarRefIndexes(s)
		if len(matches) == 0 {
			return s
		}
		var b strings.Builder
		last := 0
		for _, m := range matches {
			tok, ok := rewrite[s[m[2]:m[3]]+"\x00"+s[m[4]:m[5]]]
			if !ok {
				continue
			}
			b.WriteString(s[last:m[0]])
			b.WriteString(tok)
			last = m[1]
		}
		b.WriteString(s[last:])
		return b.String()
	})
}

// scalarRefIndexes returns submatch indexes for scalar references in s,
// excluding collection references (a match followed by '[').
func scalarRefIndexes(s string) [][]int {
	var out [][]int
	for _, m := range scalarRefRe.FindAllStringSubmatchIndex(s, -1) {
		if m[1] < len(s) && s[m[1]] == '[' {
			continue
		}
		out = append(out, m)
	}
	return out
}

// bindOwner records which producer/path pair a bind name belongs to.
type bindOwner struct {
	producer string
	path     string
}

// bindRegistry tracks bind names across the whole plan. The runtime binding
// table is run-scoped and append-only, so a name may belong to exactly one
// (producer, path) pair or every consumer token rewritten to it would read
// the first producer's value.
type bindRegistry map[string]bindOwner

// register adds name -> path to the producer's binds and returns the name
// actually used. When the name is taken by a different producer or path, the
// new name is suffixed with a deterministic hash of its owner, never
// overwriting or shadowing the earlier bind.
func (r bindRegistry) register(producer *PlanStep, name, path string) string {
	if producer.Binds == nil {
		producer.Binds = make(map[string]string)
	}
	owner := bindOwner{producer: producer.ID, path: path}
	if existing, ok := r[name]; ok && existing != owner {
		name = name + "_" + pathHash(producer.ID+"\x00"+path)
	}
	r[name] = owner
	producer.Binds[name] = path
	return name
}

func sanitizeVarName(s string) string {
	return varNameRe.ReplaceAllString(s, "_")
}

func pathHash(path string) string {
	h := fnv.New32a()
	h.Write([]byte(path))
	return fmt.Sprintf("%04x", h.Sum32()&0xffff)
}

// scanStrings visits every string leaf of a JSON-shaped tree in deterministic
// order (map keys sorted, slices in order).
func scanStrings(v any, visit func(s string)) {
	switch t := v.(type) {
	case string:
		visit(t)
	case []any:
		for _, item := range t {
			scanStrings(item, visit)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			scanStrings(t[k], visit)
		}
	}
}

// mutateStrings rewrites every string leaf of a JSON-shaped tree in place.
func mutateStrings(v any, f func(s string) string) any {
	switch t := v.(type) {
	case string:
		return f(t)
	case []any:
		for i, item := range t {
			t[i] = mutateStrings(item, f)
		}
		return t
	case map[string]any:
		for k, item := range t {
			t[k] = mutateStrings(item, f)
		}
		return t
	default:
		return v
	}
}
