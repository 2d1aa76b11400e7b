// Package logging provides the key/value logger shared by all relayloop
// components. Output is one line per entry: [COMPONENT] LEVEL message k=v ...
package logging

import (
	"fmt"
	"log"
	"strings"
)

// Info logs a message with key/value fields under a component prefix.
func Info(component, msg string, kv ...any) {
	log.Printf("[%s] %s%s", strings.ToUpper(component), msg, formatFields(kv))
}

// Warn logs a warning with key/value fields under a component prefix.
func Warn(component, msg string, kv ...any) {
	log.Printf("[%s] WARN %s%s", strings.ToUpper(component), msg, formatFields(kv))
}

// Error logs an error message with key/value fields under a component prefix.
func Error(component, msg string, kv ...any) {
	log.Printf("[%s] ERROR %s%s", strings.ToUpper(component), msg, formatFields(kv))
}

func formatFields(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		b.WriteString(" ")
		b.WriteString(fieldString(kv[i]))
		b.WriteString("=")
		b.WriteString(fieldString(kv[i+1]))
	}
	return b.String()
}

func fieldString(v any) string {
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprintf("%v", v)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.TrimSpace(s)
}
