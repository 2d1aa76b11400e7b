package bus

import (
	"errors"
	"testing"
	"time"
)

func TestRetryAfterAndDelay(t *testing.T) {
	base := errors.New("boom")
	err := RetryAfter(base, 2*time.Second)
	delay, ok := RetryDelay(err)
	if !ok {
		t.Fatal("expected retryable error")
	}
	if delay != 2*time.Second {
		t.Fatalf("expected 2s delay, got %s", delay)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to unwrap")
	}
}

func TestRetryDelayNonRetryable(t *testing.T) {
	if _, ok := RetryDelay(errors.New("plain")); ok {
		t.Fatal("plain error must not be retryable")
	}
}

func TestRetryAfterNegativeDelayClamped(t *testing.T) {
	delay, ok := RetryDelay(RetryAfter(errors.New("x"), -time.Second))
	if !ok || delay != 0 {
		t.Fatalf("expected clamped zero delay, got %s ok=%v", delay, ok)
	}
}

func TestDurableName(t *testing.T) {
	if got := durableName("sys.step.result", ""); got != "dur_sys_step_result" {
		t.Fatalf("durableName = %q", got)
	}
	if got := durableName("job.step.>", "workers"); got != "dur_workers__job_step_GT" {
		t.Fatalf("durableName = %q", got)
	}
}
