package executor

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relayloop/relayloop/core/actor"
	"github.com/relayloop/relayloop/core/plan"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreSaveAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &PlanRun{
		ID:    "run-1",
		Goal:  "email the team",
		Actor: actor.Context{Subject: "u1", UserID: 42},
		Steps: []*plan.PlanStep{{ID: "s1", Tool: "email.send", Args: map[string]any{"to": "a@b.com"}}},
		Vars:  Vars{"email": "a@b.com"},
	}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if run.Status != RunStatusPending {
		t.Fatalf("expected defaulted status, got %q", run.Status)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Goal != "email the team" || got.Actor.UserID != 42 {
		t.Fatalf("unexpected run %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Tool != "email.send" {
		t.Fatalf("unexpected steps %+v", got.Steps)
	}
	if got.Vars["email"] != "a@b.com" {
		t.Fatalf("unexpected vars %+v", got.Vars)
	}
}

func TestRedisStoreStatusIndexMovesWithRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &PlanRun{ID: "run-2", Status: RunStatusRunning}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	running, err := store.ListRunIDsByStatus(ctx, RunStatusRunning, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(running) != 1 || running[0] != "run-2" {
		t.Fatalf("expected run indexed as running, got %v", running)
	}

	run.Status = RunStatusSucceeded
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}

	running, _ = store.ListRunIDsByStatus(ctx, RunStatusRunning, 10)
	if len(running) != 0 {
		t.Fatalf("expected running index cleared, got %v", running)
	}
	succeeded, _ := store.ListRunIDsByStatus(ctx, RunStatusSucceeded, 10)
	if len(succeeded) != 1 || succeeded[0] != "run-2" {
		t.Fatalf("expected run indexed as succeeded, got %v", succeeded)
	}
}

func TestRedisStoreListRunsByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, userID := range []int64{1, 1, 2} {
		run := &PlanRun{
			ID:    string(rune('a' + i)),
			Actor: actor.Context{UserID: userID},
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	mine, err := store.ListRuns(ctx, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 runs for user 1, got %d", len(mine))
	}
	all, err := store.ListRuns(ctx, 0, 10)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs total, got %d", len(all))
	}
}

func TestRedisStoreDeleteRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &PlanRun{ID: "run-3", Status: RunStatusFailed, Actor: actor.Context{UserID: 5}}
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.DeleteRun(ctx, "run-3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRun(ctx, "run-3"); err == nil {
		t.Fatal("expected missing run after delete")
	}
	failed, _ := store.ListRunIDsByStatus(ctx, RunStatusFailed, 10)
	if len(failed) != 0 {
		t.Fatalf("expected status index cleared, got %v", failed)
	}
}
