package plan

import (
	"fmt"
	"strings"
	"time"
)

// Rendering used by the $fmt helpers: medium date, short time, short zone
// label, with an arrow glyph joining range ends.
const (
	datetimeLayout = "Jan 2, 2006 3:04 PM"
	rangeArrow     = " → "
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
}

// evalFmtFunc evaluates one $fmt.<name>(args) occurrence. Arguments may be
// $var.* or $each.* expressions or quoted literals. Failures degrade to the
// raw argument text; a helper never aborts resolution.
func evalFmtFunc(name, rawArgs string, vars map[string]any, iter *Iteration, opts Options) string {
	args := splitFmtArgs(rawArgs)
	switch name {
	case "datetime":
		if len(args) == 0 {
			return ""
		}
		tz := opts.Timezone
		if len(args) > 1 {
			tz = argString(args[1], vars, iter)
		}
		return formatDatetime(argValue(args[0], vars, iter), tz)
	case "range":
		if len(args) < 2 {
			return ""
		}
		tz := opts.Timezone
		if len(args) > 2 {
			tz = argString(args[2], vars, iter)
		}
		start := formatDatetime(argValue(args[0], vars, iter), tz)
		end := formatDatetime(argValue(args[1], vars, iter), tz)
		return start + rangeArrow + end
	case "listRange":
		if len(args) < 3 {
			return ""
		}
		tz := opts.Timezone
		if len(args) > 3 {
			tz = argString(args[3], vars, iter)
		}
		return formatListRange(argValue(args[0], vars, iter), argString(args[1], vars, iter), argString(args[2], vars, iter), tz)
	default:
		return ""
	}
}

// formatListRange renders a numbered list, one line per element, pairing each
// element's two named date fields into a readable range line.
func formatListRange(val any, startKey, endKey, tz string) string {
	items, ok := val.([]any)
	if !ok {
		return formatDatetime(val, tz)
	}
	lines := make([]string, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, formatDatetime(item, tz)))
			continue
		}
		start := formatDatetime(m[startKey], tz)
		end := formatDatetime(m[endKey], tz)
		lines = append(lines, fmt.Sprintf("%d. %s%s%s", i+1, start, rangeArrow, end))
	}
	return strings.Join(lines, "\n")
}

// formatDatetime renders a value as a medium-date/short-time string with a
// short timezone label. Values that do not parse as dates keep their original
// string form.
func formatDatetime(val any, tz string) string {
	s := stringifyValue(val)
	t, ok := parseTime(s)
	if !ok {
		return s
	}
	lt := t.In(loadLocation(tz))
	return lt.Format(datetimeLayout) + " " + lt.Format("MST")
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// splitFmtArgs splits a helper argument list on top-level commas, honoring
// single and double quotes.
func splitFmtArgs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	var b strings.Builder
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == ',':
			out = append(out, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	out = append(out, strings.TrimSpace(b.String()))
	return out
}

// argValue resolves one helper argument: a quoted literal, a $var/$each
// expression (typed), or bare text as-is.
func argValue(expr string, vars map[string]any, iter *Iteration) any {
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 {
		if (expr[0] == '\'' && expr[len(expr)-1] == '\'') || (expr[0] == '"' && expr[len(expr)-1] == '"') {
			return expr[1 : len(expr)-1]
		}
	}
	if m := wholeVarRe.FindStringSubmatch(expr); m != nil {
		if val, ok := lookupPath(vars, m[1]); ok {
			return val
		}
		return expr
	}
	if m := wholeEachRe.FindStringSubmatch(expr); m != nil && iter != nil {
		return resolveEachPath(iter.Item, m[1], expr)
	}
	return expr
}

func argString(expr string, vars map[string]any, iter *Iteration) string {
	return stringifyValue(argValue(expr, vars, iter))
}
