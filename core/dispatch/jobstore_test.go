package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestJobStore(t *testing.T, retain int64) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewJobStore(client, retain), mr
}

func TestJobStoreRecordAndGet(t *testing.T) {
	store, _ := newTestJobStore(t, 0)
	ctx := context.Background()

	job := StepJob{
		JobID:      JobID("run-1", "draft", 1),
		RunID:      "run-1",
		PlanStepID: "draft",
		Tool:       "email.draft",
		Attempt:    1,
		EnqueuedAt: time.Now(),
	}
	if err := store.Record(ctx, job); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec, err := store.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.RunID != "run-1" || rec.StepID != "draft" || rec.Tool != "email.draft" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.State != StatusDispatched {
		t.Fatalf("expected dispatched state, got %q", rec.State)
	}
	if rec.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", rec.Attempt)
	}
}

func TestJobStoreSetState(t *testing.T) {
	store, _ := newTestJobStore(t, 0)
	ctx := context.Background()

	job := StepJob{JobID: "run-2:s:1", RunID: "run-2", PlanStepID: "s", Tool: "echo", Attempt: 1}
	if err := store.Record(ctx, job); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.SetState(ctx, job.JobID, StatusFailed, "tool exploded"); err != nil {
		t.Fatalf("set state: %v", err)
	}

	rec, err := store.Get(ctx, job.JobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.State != StatusFailed || rec.Error != "tool exploded" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestJobStoreGetMissing(t *testing.T) {
	store, _ := newTestJobStore(t, 0)
	_, err := store.Get(context.Background(), "nope")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestJobStoreBoundedRetention(t *testing.T) {
	store, mr := newTestJobStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		job := StepJob{
			JobID:      fmt.Sprintf("run-r:%d:1", i),
			RunID:      "run-r",
			PlanStepID: fmt.Sprintf("%d", i),
			Tool:       "echo",
			Attempt:    1,
		}
		if err := store.Record(ctx, job); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		// Distinct scores so the prune order is deterministic.
		mr.FastForward(time.Second)
	}

	ids, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 retained ids, got %d: %v", len(ids), ids)
	}
	if ids[0] != "run-r:5:1" {
		t.Fatalf("expected newest first, got %v", ids)
	}
	for _, id := range ids {
		if id == "run-r:0:1" || id == "run-r:1:1" || id == "run-r:2:1" {
			t.Fatalf("expected oldest ids pruned, got %v", ids)
		}
	}
}
