package logging

import (
	"strings"
	"testing"
)

func TestFormatFields(t *testing.T) {
	got := formatFields([]any{"run_id", "r-1", "count", 3})
	want := " run_id=r-1 count=3"
	if got != want {
		t.Fatalf("formatFields = %q, want %q", got, want)
	}
}

func TestFormatFieldsOddArity(t *testing.T) {
	got := formatFields([]any{"orphan"})
	if got != " orphan=(missing)" {
		t.Fatalf("formatFields = %q", got)
	}
}

func TestFieldStringFlattensWhitespace(t *testing.T) {
	got := fieldString("a\nb\tc")
	if strings.ContainsAny(got, "\n\t") {
		t.Fatalf("fieldString left control whitespace: %q", got)
	}
}
